package speech

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSynthesizePostsOpenAIBody(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/audio/speech" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFFdata"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "", 0)
	audio, err := client.Synthesize(context.Background(), Request{Input: "This is a test.", ResponseFormat: "wav"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(audio) != "RIFFdata" {
		t.Fatalf("unexpected body %q", audio)
	}
	if got.Model != "vui" || got.Input != "This is a test." || got.ResponseFormat != "wav" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestSynthesizeStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"render failed: a. Fallback failed: b"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "vui", time.Second).Synthesize(context.Background(), Request{Input: "x"})
	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if serr.StatusCode != 500 || serr.Message != "render failed: a. Fallback failed: b" {
		t.Fatalf("unexpected error %+v", serr)
	}
}

func TestSynthesizeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewClient(srv.URL, "vui", 50*time.Millisecond).Synthesize(context.Background(), Request{Input: "x"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var serr *StatusError
	if errors.As(err, &serr) {
		t.Fatalf("timeout should not be a status error: %v", err)
	}
}
