package translate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/config"
)

var (
	// ErrNoTranslations is returned when the service answers without candidates.
	ErrNoTranslations = errors.New("translation response contained no candidates")
	// ErrMissingAPIKey is returned when a keyed backend has no credential.
	ErrMissingAPIKey = errors.New("translation api key not configured")
)

// Request asks for text to be translated into Target.
type Request struct {
	Text   string
	Target string
	Source string
}

// Result is the first candidate returned by a backend.
type Result struct {
	Text           string
	DetectedSource string
}

// Translator is a pluggable translation backend.
type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}

// StatusError reports a non-2xx answer from a translation endpoint.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("translation endpoint returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("translation endpoint returned status %d: %s", e.StatusCode, e.Message)
}

// New builds the backend selected by cfg.Mode.
func New(cfg config.TranslateConfig) (Translator, error) {
	client := &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond}
	switch cfg.Mode {
	case "google":
		return NewGoogle(cfg.Endpoint, cfg.APIKey, cfg.Source, client), nil
	case "ollama":
		return NewOllama(cfg.Endpoint, cfg.Model, client), nil
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown translate mode %q", cfg.Mode)
	}
}
