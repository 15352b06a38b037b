package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-interpreter/internal/capability"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/eventstore"
	"github.com/loqalabs/loqa-interpreter/internal/page"
	"github.com/loqalabs/loqa-interpreter/internal/stt"
	"github.com/loqalabs/loqa-interpreter/internal/translate"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	page *page.Page
	srv  *httptest.Server
}

func newFixture(t *testing.T, rec stt.Recognizer, opts Options) fixture {
	t.Helper()
	p, err := page.New(page.Options{
		Recognizer:  rec,
		Translator:  translate.NewMock(),
		Recognition: stt.Options{Language: "en-US", Continuous: true, Interim: true},
		Logger:      newLogger(),
	})
	if err != nil {
		t.Fatalf("new page: %v", err)
	}
	opts.Page = p
	opts.Logger = newLogger()
	s, err := New(opts)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	mux := http.NewServeMux()
	s.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		p.Close()
	})
	return fixture{page: p, srv: srv}
}

func idleRecognizer() stt.Recognizer {
	return stt.NewMockRecognizer([]string{"hello"}, time.Hour)
}

func (f fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decodeSnapshot(t *testing.T, data []byte) page.Snapshot {
	t.Helper()
	var snap page.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode snapshot %s: %v", data, err)
	}
	return snap
}

func TestIndexRendersPage(t *testing.T) {
	f := newFixture(t, idleRecognizer(), Options{Title: "Interpreter"})
	resp, body := f.do(t, http.MethodGet, "/", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	html := string(body)
	for _, want := range []string{
		"<title>Interpreter</title>",
		"Start Listening",
		page.TranscriptPlaceholder,
		page.TranslationPlaceholder,
		`<option value="es" selected>Spanish</option>`,
		`<option value="zh">Chinese</option>`,
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("index missing %q", want)
		}
	}
	if strings.Count(html, "<option ") != 8 {
		t.Fatalf("expected 8 language options")
	}
}

func TestIndexWithoutRecognizer(t *testing.T) {
	f := newFixture(t, nil, Options{})
	_, body := f.do(t, http.MethodGet, "/", "")
	if !strings.Contains(string(body), "Speech recognition not supported") {
		t.Fatal("expected unsupported notice")
	}
}

func TestCaptureUnavailable(t *testing.T) {
	f := newFixture(t, nil, Options{})
	resp, body := f.do(t, http.MethodPost, "/api/capture/toggle", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "speech recognition not supported") {
		t.Fatalf("unexpected body %s", body)
	}
	if f.page.Snapshot().State != page.Idle {
		t.Fatal("page left idle")
	}
}

func TestCaptureToggleStartStop(t *testing.T) {
	f := newFixture(t, idleRecognizer(), Options{})

	resp, body := f.do(t, http.MethodPost, "/api/capture/toggle", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("toggle status %d: %s", resp.StatusCode, body)
	}
	if snap := decodeSnapshot(t, body); snap.State != page.Listening || snap.SessionID == "" {
		t.Fatalf("expected listening, got %+v", snap)
	}

	resp, body = f.do(t, http.MethodPost, "/api/capture/start", "")
	if resp.StatusCode != http.StatusOK || decodeSnapshot(t, body).State != page.Listening {
		t.Fatalf("start while listening should be a no-op, got %d %s", resp.StatusCode, body)
	}

	resp, body = f.do(t, http.MethodPost, "/api/capture/stop", "")
	if resp.StatusCode != http.StatusOK || decodeSnapshot(t, body).State != page.Idle {
		t.Fatalf("expected idle after stop, got %d %s", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/capture/rewind", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown action, got %d", resp.StatusCode)
	}
}

func TestLanguages(t *testing.T) {
	f := newFixture(t, nil, Options{})
	resp, body := f.do(t, http.MethodGet, "/api/languages", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var got languagesResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Languages) != 8 || got.Selected != "es" || got.Languages[0].Code != "en" {
		t.Fatalf("unexpected languages %+v", got)
	}
}

func TestSelectLanguage(t *testing.T) {
	f := newFixture(t, nil, Options{})

	resp, body := f.do(t, http.MethodPut, "/api/language", `{"code":"fr"}`)
	if resp.StatusCode != http.StatusOK || decodeSnapshot(t, body).Target != "fr" {
		t.Fatalf("expected fr selected, got %d %s", resp.StatusCode, body)
	}

	resp, _ = f.do(t, http.MethodPut, "/api/language", `{"code":"pt"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown code, got %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPut, "/api/language", `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad body, got %d", resp.StatusCode)
	}
	if f.page.Snapshot().Target != "fr" {
		t.Fatal("rejected requests must not change the target")
	}
}

func TestSessionsWithoutStore(t *testing.T) {
	f := newFixture(t, nil, Options{})
	resp, _ := f.do(t, http.MethodGet, "/api/sessions/abc/events", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSessionEvents(t *testing.T) {
	ctx := context.Background()
	store, err := eventstore.Open(ctx, config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "events.db"),
		RetentionMode: "session",
	}, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.StartSession(ctx, "abc", "en-US"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := store.AppendJSON(ctx, "abc", eventstore.TypeTranslation, map[string]string{"translated_text": "hola"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	f := newFixture(t, nil, Options{Store: store})
	resp, body := f.do(t, http.MethodGet, "/api/sessions/abc/events?limit=5", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, body)
	}
	var events []eventstore.Event
	if err := json.Unmarshal(body, &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].Type != eventstore.TypeTranslation {
		t.Fatalf("unexpected events %+v", events)
	}

	resp, body = f.do(t, http.MethodGet, "/api/sessions", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"id":"abc"`) {
		t.Fatalf("unexpected sessions response %d %s", resp.StatusCode, body)
	}

	_, body = f.do(t, http.MethodGet, "/api/sessions/missing/events", "")
	if strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("expected empty list, got %s", body)
	}
}

type staticNodes []capability.NodeInfo

func (s staticNodes) Query(func(capability.NodeInfo) bool) []capability.NodeInfo {
	return s
}

func TestNodes(t *testing.T) {
	f := newFixture(t, nil, Options{Nodes: staticNodes{{ID: "interp-1", Role: "interpreter", Healthy: true}}})
	_, body := f.do(t, http.MethodGet, "/api/nodes", "")
	if !strings.Contains(string(body), `"id":"interp-1"`) {
		t.Fatalf("unexpected nodes %s", body)
	}

	empty := newFixture(t, nil, Options{})
	_, body = empty.do(t, http.MethodGet, "/api/nodes", "")
	if strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("expected empty list, got %s", body)
	}
}

func TestWebsocketStreamsSnapshots(t *testing.T) {
	f := newFixture(t, nil, Options{})
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first page.Snapshot
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if first.Target != "es" {
		t.Fatalf("unexpected initial snapshot %+v", first)
	}

	if err := f.page.SelectLanguage("ko"); err != nil {
		t.Fatalf("select: %v", err)
	}
	var next page.Snapshot
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if next.Target != "ko" || next.Revision <= first.Revision {
		t.Fatalf("unexpected update %+v", next)
	}
}
