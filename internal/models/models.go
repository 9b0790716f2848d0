// Package models checks and warms the local Ollama models the relay depends on:
// the chat model behind the ollama completion engine and the embedding model
// behind Qdrant retrieval and call history.
package models

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ollama is a thin client for Ollama's model management endpoints.
type Ollama struct {
	url    string
	client *http.Client
}

// NewOllama creates a model management client. A nil client gets a default one
// without an overall timeout, since pulls can run for minutes; callers bound
// them with ctx.
func NewOllama(url string, client *http.Client) *Ollama {
	if client == nil {
		client = &http.Client{}
	}
	return &Ollama{url: strings.TrimRight(url, "/"), client: client}
}

// List returns the names of the models Ollama has downloaded.
func (o *Ollama) List(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", o.url+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama tags: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama tags status %d", resp.StatusCode)
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode ollama tags: %w", err)
	}

	names := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Has reports whether model is downloaded. A name without a tag matches ":latest".
func (o *Ollama) Has(ctx context.Context, model string) (bool, error) {
	names, err := o.List(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if sameModel(n, model) {
			return true, nil
		}
	}
	return false, nil
}

// Ensure pulls model unless it is already downloaded.
func (o *Ollama) Ensure(ctx context.Context, model string) error {
	ok, err := o.Has(ctx, model)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return o.Pull(ctx, model)
}

// Pull downloads model and waits for the pull stream to report success.
func (o *Ollama) Pull(ctx context.Context, model string) error {
	resp, err := o.post(ctx, "/api/pull", map[string]any{"model": model})
	if err != nil {
		return fmt.Errorf("ollama pull %s: %w", model, err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	var last string
	for scanner.Scan() {
		var ev struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		}
		if json.Unmarshal(scanner.Bytes(), &ev) != nil {
			continue
		}
		if ev.Error != "" {
			return fmt.Errorf("ollama pull %s: %s", model, ev.Error)
		}
		last = ev.Status
	}
	if err = scanner.Err(); err != nil {
		return fmt.Errorf("ollama pull %s: %w", model, err)
	}
	if last != "success" {
		return fmt.Errorf("ollama pull %s ended with %q", model, last)
	}
	return nil
}

// Preload loads model into memory and keeps it resident so the first turn
// does not pay the load time.
func (o *Ollama) Preload(ctx context.Context, model string) error {
	resp, err := o.post(ctx, "/api/generate", map[string]any{"model": model, "keep_alive": -1})
	if err != nil {
		return fmt.Errorf("ollama preload %s: %w", model, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (o *Ollama) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", o.url+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// Warm makes sure model is present and loaded, logging through report. It is
// meant to run in the background at startup.
func (o *Ollama) Warm(ctx context.Context, model string, timeout time.Duration, report func(error)) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := o.Ensure(ctx, model)
	if err == nil {
		err = o.Preload(ctx, model)
	}
	if report != nil {
		report(err)
	}
}

func sameModel(have, want string) bool {
	if have == want {
		return true
	}
	if !strings.Contains(want, ":") {
		return have == want+":latest"
	}
	return false
}
