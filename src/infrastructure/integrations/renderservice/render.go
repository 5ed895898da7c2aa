package renderservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"reelforge/src/core/assembly"
)

// Client talks to the render backend. Rendering is the slow, memory-heavy
// stage of the pipeline; the client itself does no retrying, the backend
// owns that.
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

type renderRequest struct {
	Timeline      assembly.Timeline `json:"timeline"`
	Preset        string            `json:"preset"`
	SubtitleStyle string            `json:"subtitle_style"`
}

type renderResponse struct {
	ArtifactPath string `json:"artifact_path"`
}

func (c *Client) Render(ctx context.Context, timeline assembly.Timeline, preset, subtitleStyle string) (string, error) {
	reqBody, err := json.Marshal(renderRequest{
		Timeline:      timeline,
		Preset:        preset,
		SubtitleStyle: subtitleStyle,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal render request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/render", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to call render service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("render service error: %s: %s", resp.Status, string(body))
	}

	var payload renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to parse render response: %w", err)
	}
	if payload.ArtifactPath == "" {
		return "", fmt.Errorf("render service returned no artifact path")
	}

	return payload.ArtifactPath, nil
}
