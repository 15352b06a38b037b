package translate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-interpreter/internal/language"
)

type ollamaTranslator struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewOllama translates by prompting a local model through /api/generate.
func NewOllama(endpoint, model string, client *http.Client) Translator {
	if client == nil {
		client = http.DefaultClient
	}
	if model == "" {
		model = "llama3.2:latest"
	}
	return &ollamaTranslator{endpoint: strings.TrimRight(endpoint, "/"), model: model, client: client}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaStreamResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

const ollamaSystemPrompt = "You are a translation engine. Reply with the translation only, without quotes, notes or explanations."

func (o *ollamaTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	payload := ollamaRequest{
		Model:   o.model,
		Prompt:  fmt.Sprintf("Translate the following text into %s:\n\n%s", language.DisplayName(req.Target), req.Text),
		System:  ollamaSystemPrompt,
		Stream:  true,
		Options: ollamaOptions{Temperature: 0},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Result{}, &StatusError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	var accumulated strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return Result{}, fmt.Errorf("decode ollama chunk: %w", err)
		}
		if chunk.Error != "" {
			return Result{}, fmt.Errorf("ollama: %s", chunk.Error)
		}
		accumulated.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, err
	}

	text := strings.TrimSpace(accumulated.String())
	if text == "" {
		return Result{}, ErrNoTranslations
	}
	return Result{Text: text}, nil
}
