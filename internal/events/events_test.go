package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"sentinel/internal/config"
	"sentinel/internal/domain"
)

func TestWebhookSinkDeliversMatchingEntries(t *testing.T) {
	var (
		mu      sync.Mutex
		got     []domain.SystemLog
		secrets []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e domain.SystemLog
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		got = append(got, e)
		secrets = append(secrets, r.Header.Get("X-Sentinel-Secret"))
		mu.Unlock()
	}))
	defer srv.Close()

	off := false
	sink := NewWebhookSink([]config.WebhookConfig{
		{URL: srv.URL, Secret: "s", Actions: []string{"TASK_FAILED"}},
		{URL: srv.URL, Enabled: &off},
	}, nil)
	err := sink.Publish(context.Background(), []domain.SystemLog{
		{ID: "log-1", Action: "TASK_CREATED"},
		{ID: "log-2", Action: "TASK_FAILED"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].ID != "log-2" {
		t.Fatalf("expected only log-2, got %+v", got)
	}
	if secrets[0] != "s" {
		t.Fatalf("expected secret header, got %q", secrets[0])
	}
	if err := sink.Publish(context.Background(), got); err == nil {
		t.Fatalf("expected publish after close to fail")
	}
}

type failingSink struct{ err error }

func (f failingSink) Publish(context.Context, []domain.SystemLog) error { return f.err }

func TestFanoutJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	rec := NewRecorder(4)
	err := Fanout{failingSink{boom}, rec}.Publish(context.Background(), []domain.SystemLog{{ID: "log-1"}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	select {
	case e := <-rec.C():
		if e.ID != "log-1" {
			t.Fatalf("unexpected entry %+v", e)
		}
	default:
		t.Fatalf("recorder did not receive the entry")
	}
}
