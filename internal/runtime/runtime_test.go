package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/eventstore"
	"github.com/loqalabs/loqa-interpreter/internal/page"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.HTTP.Bind = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Bus.Port = -1
	cfg.Bus.StoreDir = filepath.Join(dir, "nats")
	cfg.Node.HeartbeatInterval = 100
	cfg.Node.HeartbeatTimeout = 2000
	cfg.EventStore.Path = filepath.Join(dir, "events.db")
	cfg.STT.Mode = "mock"
	cfg.STT.MockPhrases = []string{"hello"}
	cfg.STT.MockIntervalMS = 50
	cfg.Translate.Mode = "mock"
	return cfg
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, body
}

func TestRuntimeServesPage(t *testing.T) {
	rt := New(testConfig(t), newLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("runtime did not stop")
		}
	})

	waitFor(t, "runtime ready", rt.Ready)
	base := "http://" + rt.Addr()

	if status, body := get(t, base+"/healthz"); status != http.StatusOK || string(body) != "ok" {
		t.Fatalf("unexpected healthz %d %s", status, body)
	}
	if status, _ := get(t, base+"/readyz"); status != http.StatusOK {
		t.Fatalf("unexpected readyz %d", status)
	}

	resp, err := http.Post(base+"/api/capture/toggle", "application/json", nil)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected toggle status %d", resp.StatusCode)
	}

	var snap page.Snapshot
	waitFor(t, "mock translation", func() bool {
		_, body := get(t, base+"/api/state")
		if err := json.Unmarshal(body, &snap); err != nil {
			return false
		}
		return snap.Translation == "[es] hello"
	})
	if snap.SessionID == "" || snap.State != page.Listening {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	waitFor(t, "recorded timeline", func() bool {
		status, body := get(t, base+"/api/sessions/"+snap.SessionID+"/events")
		if status != http.StatusOK {
			return false
		}
		var events []eventstore.Event
		if err := json.Unmarshal(body, &events); err != nil {
			return false
		}
		for _, evt := range events {
			if evt.Type == eventstore.TypeTranslation {
				return true
			}
		}
		return false
	})

	status, body := get(t, base+"/api/nodes")
	if status != http.StatusOK || !strings.Contains(string(body), `"id":"loqa-interpreter-1"`) {
		t.Fatalf("unexpected nodes %d %s", status, body)
	}

	status, body = get(t, base+"/metrics")
	if status != http.StatusOK || !strings.Contains(string(body), "interp_translation_requests") {
		t.Fatalf("expected translation metrics, got %d", status)
	}
}

func TestRuntimeWithoutBus(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bus.Enabled = false
	cfg.EventStore.RetentionMode = "ephemeral"
	cfg.STT.Mode = "none"

	rt := New(cfg, newLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	waitFor(t, "runtime ready", rt.Ready)
	base := "http://" + rt.Addr()

	resp, err := http.Post(base+"/api/capture/toggle", "application/json", nil)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 without a recognizer, got %d", resp.StatusCode)
	}
	if status, _ := get(t, base+"/api/sessions/x/events"); status != http.StatusNotFound {
		t.Fatalf("expected 404 for ephemeral store, got %d", status)
	}
}

func TestRuntimeListenError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bus.Enabled = false
	cfg.EventStore.RetentionMode = "ephemeral"
	cfg.HTTP.Bind = "256.0.0.1"

	err := New(cfg, newLogger()).Start(context.Background())
	if err == nil {
		t.Fatal("expected listen error")
	}
}
