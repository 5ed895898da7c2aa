package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"reelforge/src/core/assembly"
)

// Client talks to the narration synthesis service. It returns raw audio
// plus per-character timestamps; phrase derivation happens downstream.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

type synthesizeRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type synthesizeResponse struct {
	AudioBase64 string               `json:"audio_base64"`
	Duration    float64              `json:"duration"`
	Characters  []assembly.TimedChar `json:"characters"`
}

func (c *Client) Synthesize(ctx context.Context, text, model string) (*assembly.Speech, error) {
	reqBody, err := json.Marshal(synthesizeRequest{Text: text, Model: model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesize request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/synthesize", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call synthesis service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("synthesis service error: %s: %s", resp.Status, string(body))
	}

	var payload synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse synthesis response: %w", err)
	}

	audio, err := base64.StdEncoding.DecodeString(payload.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode narration audio: %w", err)
	}

	return &assembly.Speech{
		Audio:      audio,
		Characters: payload.Characters,
		Duration:   payload.Duration,
	}, nil
}
