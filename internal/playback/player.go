package playback

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-voice/internal/config"
)

const filePlaceholder = "{file}"

// Player starts playback of an audio file without blocking. The returned
// channel receives the playback result and is then closed. A nil channel
// means completion cannot be observed.
type Player interface {
	Play(ctx context.Context, path string) (<-chan error, error)
}

// NewPlayer builds the player named by cfg.Mode.
func NewPlayer(cfg config.PlaybackConfig) (Player, error) {
	switch cfg.Mode {
	case "discard", "":
		return NewDiscardPlayer(), nil
	case "exec":
		return NewExecPlayer(cfg.Command)
	default:
		return nil, fmt.Errorf("unsupported playback mode %q", cfg.Mode)
	}
}

type execPlayer struct {
	args []string
}

// NewExecPlayer runs command once per clip. The clip path replaces every
// {file} token, or is appended when the template has none.
func NewExecPlayer(command string) (Player, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse playback command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("playback command is empty")
	}
	return &execPlayer{args: args}, nil
}

func (p *execPlayer) argv(path string) []string {
	argv := make([]string, 0, len(p.args)+1)
	substituted := false
	for _, a := range p.args {
		if strings.Contains(a, filePlaceholder) {
			a = strings.ReplaceAll(a, filePlaceholder, path)
			substituted = true
		}
		argv = append(argv, a)
	}
	if !substituted {
		argv = append(argv, path)
	}
	return argv
}

func (p *execPlayer) Play(ctx context.Context, path string) (<-chan error, error) {
	argv := p.argv(path)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start player: %w", err)
	}
	done := make(chan error, 1)
	go func() {
		defer close(done)
		if err := cmd.Wait(); err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				err = fmt.Errorf("%w: %s", err, msg)
			}
			done <- err
			return
		}
		done <- nil
	}()
	return done, nil
}

type discardPlayer struct{}

// NewDiscardPlayer completes immediately without producing sound.
func NewDiscardPlayer() Player { return discardPlayer{} }

func (discardPlayer) Play(context.Context, string) (<-chan error, error) {
	done := make(chan error, 1)
	done <- nil
	close(done)
	return done, nil
}
