package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

type googleTranslator struct {
	endpoint string
	apiKey   string
	source   string
	client   *http.Client
}

// NewGoogle returns a client for the Cloud Translation v2 REST API. The key is
// passed as the key query parameter.
func NewGoogle(endpoint, apiKey, source string, client *http.Client) Translator {
	if client == nil {
		client = http.DefaultClient
	}
	return &googleTranslator{endpoint: endpoint, apiKey: apiKey, source: source, client: client}
}

type googleRequest struct {
	Q      string `json:"q"`
	Target string `json:"target"`
	Source string `json:"source,omitempty"`
	Format string `json:"format,omitempty"`
}

type googleResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText         string `json:"translatedText"`
			DetectedSourceLanguage string `json:"detectedSourceLanguage"`
		} `json:"translations"`
	} `json:"data"`
}

type googleError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *googleTranslator) requestURL() (string, error) {
	u, err := url.Parse(g.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse translate endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", g.apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (g *googleTranslator) Translate(ctx context.Context, req Request) (Result, error) {
	if g.apiKey == "" {
		return Result{}, ErrMissingAPIKey
	}
	source := req.Source
	if source == "" {
		source = g.source
	}
	body, err := json.Marshal(googleRequest{Q: req.Text, Target: req.Target, Source: source, Format: "text"})
	if err != nil {
		return Result{}, err
	}
	target, err := g.requestURL()
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("translate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		var gerr googleError
		if json.Unmarshal(raw, &gerr) == nil && gerr.Error.Message != "" {
			statusErr.Message = gerr.Error.Message
		}
		return Result{}, statusErr
	}

	var decoded googleResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("decode translate response: %w", err)
	}
	if len(decoded.Data.Translations) == 0 {
		return Result{}, ErrNoTranslations
	}
	first := decoded.Data.Translations[0]
	return Result{Text: first.TranslatedText, DetectedSource: first.DetectedSourceLanguage}, nil
}
