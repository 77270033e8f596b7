package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stephen37/voice-assistant/internal/app"
)

// errBusy mirrors the server's 409 reply.
var errBusy = errors.New("assistant is busy answering another question")

type apiClient struct {
	base string
	hc   *http.Client
}

func newAPIClient(addr string, timeout time.Duration) *apiClient {
	return &apiClient{
		base: strings.TrimRight(addr, "/"),
		hc:   &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) Listening(ctx context.Context) (bool, error) {
	var st app.ListeningStatus
	err := c.do(ctx, http.MethodGet, "/api/listening", nil, &st)
	return st.Listening, err
}

func (c *apiClient) Toggle(ctx context.Context) (bool, error) {
	var st app.ListeningStatus
	err := c.do(ctx, http.MethodPost, "/api/listening/toggle", nil, &st)
	return st.Listening, err
}

func (c *apiClient) SetListening(ctx context.Context, on bool) (bool, error) {
	var st app.ListeningStatus
	err := c.do(ctx, http.MethodPut, "/api/listening", app.ListeningStatus{Listening: on}, &st)
	return st.Listening, err
}

func (c *apiClient) Ask(ctx context.Context, question string) (app.AskResponse, error) {
	var resp app.AskResponse
	err := c.do(ctx, http.MethodPost, "/api/ask", app.AskRequest{Question: question}, &resp)
	return resp, err
}

func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return errBusy
	case resp.StatusCode >= 300:
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, e.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %s", method, path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
