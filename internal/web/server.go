// Package web serves the transcription page and its JSON/websocket API.
package web

import (
	_ "embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-interpreter/internal/capability"
	"github.com/loqalabs/loqa-interpreter/internal/eventstore"
	"github.com/loqalabs/loqa-interpreter/internal/language"
	"github.com/loqalabs/loqa-interpreter/internal/page"
)

//go:embed templates/index.html
var indexHTML string

// NodeLister lists interpreter nodes known on the bus.
type NodeLister interface {
	Query(filter func(capability.NodeInfo) bool) []capability.NodeInfo
}

type Options struct {
	Page *page.Page
	// Store and Nodes are optional.
	Store  *eventstore.Store
	Nodes  NodeLister
	Title  string
	Logger *slog.Logger
}

type Server struct {
	page     *page.Page
	store    *eventstore.Store
	nodes    NodeLister
	title    string
	log      *slog.Logger
	index    *template.Template
	upgrader websocket.Upgrader
}

func New(opts Options) (*Server, error) {
	if opts.Page == nil {
		return nil, errors.New("web server requires a page")
	}
	index, err := template.New("index").Parse(indexHTML)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	title := opts.Title
	if title == "" {
		title = "Speech Transcription and Translation"
	}
	return &Server{
		page:  opts.Page,
		store: opts.Store,
		nodes: opts.Nodes,
		title: title,
		log:   log.With(slog.String("component", "web")),
		index: index,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}, nil
}

// Register mounts the page and API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/capture/{action}", s.handleCapture)
	mux.HandleFunc("GET /api/languages", s.handleLanguages)
	mux.HandleFunc("PUT /api/language", s.handleSelectLanguage)
	mux.HandleFunc("GET /api/ws", s.handleWebsocket)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}/events", s.handleSessionEvents)
	mux.HandleFunc("GET /api/nodes", s.handleNodes)
}

type indexData struct {
	Title                  string
	Snapshot               page.Snapshot
	Languages              []language.Language
	TranscriptPlaceholder  string
	TranslationPlaceholder string
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	data := indexData{
		Title:                  s.title,
		Snapshot:               s.page.Snapshot(),
		Languages:              language.All(),
		TranscriptPlaceholder:  page.TranscriptPlaceholder,
		TranslationPlaceholder: page.TranslationPlaceholder,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.index.Execute(w, data); err != nil {
		s.log.Error("render index failed", slogError(err))
	}
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.page.Snapshot())
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var err error
	switch r.PathValue("action") {
	case "toggle":
		err = s.page.Toggle(r.Context())
	case "start":
		err = s.page.Start(r.Context())
	case "stop":
		err = s.page.Stop()
	default:
		s.writeError(w, http.StatusNotFound, "unknown capture action")
		return
	}
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, s.page.Snapshot())
	case errors.Is(err, page.ErrRecognizerUnavailable):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, page.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error("capture action failed", slog.String("action", r.PathValue("action")), slogError(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

type languagesResponse struct {
	Languages []language.Language `json:"languages"`
	Selected  string              `json:"selected"`
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, languagesResponse{
		Languages: language.All(),
		Selected:  s.page.Snapshot().Target,
	})
}

type selectLanguageRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleSelectLanguage(w http.ResponseWriter, r *http.Request) {
	var req selectLanguageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := s.page.SelectLanguage(req.Code)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, s.page.Snapshot())
	case errors.Is(err, page.ErrUnknownLanguage):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil || !s.store.Persistent() {
		s.writeError(w, http.StatusNotFound, eventstore.ErrEphemeral.Error())
		return
	}
	sessions, err := s.store.ListSessions(r.Context(), queryLimit(r, 20))
	if err != nil {
		s.log.Error("list sessions failed", slogError(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []eventstore.Session{}
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil || !s.store.Persistent() {
		s.writeError(w, http.StatusNotFound, eventstore.ErrEphemeral.Error())
		return
	}
	events, err := s.store.ListSessionEvents(r.Context(), r.PathValue("id"), queryLimit(r, 100))
	if err != nil {
		s.log.Error("list session events failed", slogError(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []eventstore.Event{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleNodes(w http.ResponseWriter, _ *http.Request) {
	nodes := []capability.NodeInfo{}
	if s.nodes != nil {
		nodes = append(nodes, s.nodes.Query(nil)...)
	}
	s.writeJSON(w, http.StatusOK, nodes)
}

func queryLimit(r *http.Request, fallback int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("write response failed", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
