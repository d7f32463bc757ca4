package orchestrator

import (
	"slices"

	"github.com/loqalabs/loqa-voice/internal/chat"
)

const DefaultHistoryTurns = 10

// BuildMessages assembles the outbound conversation: the system turn, at
// most maxTurns of the most recent history, then the user message.
func BuildMessages(system string, history []chat.Message, user string, maxTurns int) []chat.Message {
	if maxTurns <= 0 {
		maxTurns = DefaultHistoryTurns
	}
	if len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	messages := make([]chat.Message, 0, len(history)+2)
	if system != "" {
		messages = append(messages, chat.Message{Role: chat.RoleSystem, Content: system})
	}
	messages = append(messages, history...)
	return append(messages, chat.Message{Role: chat.RoleUser, Content: user})
}

// appendTurn returns a new history with the exchange appended; the caller's
// slice is left untouched.
func appendTurn(history []chat.Message, user, reply string) []chat.Message {
	next := slices.Clone(history)
	return append(next,
		chat.Message{Role: chat.RoleUser, Content: user},
		chat.Message{Role: chat.RoleAssistant, Content: reply},
	)
}
