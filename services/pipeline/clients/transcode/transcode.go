// Package transcode wraps the external audio conversion service. Work is
// submitted, polled on a fixed interval, and downloaded on success.
package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackhunterking/legal-memo-backend/pkg/poll"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/consts"
)

// ErrConversionFailed covers every fatal shape of this stage: a rejected
// submission, an exhausted polling budget, or a terminal error state.
var ErrConversionFailed = errors.New("audio conversion failed")

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger

	pollInterval time.Duration
	pollAttempts int
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type jobStatusResponse struct {
	Status    string `json:"status"`
	ResultURL string `json:"result_url"`
	Error     string `json:"error"`
}

func New(apiKey, baseURL string, log *slog.Logger) *Client {
	return &Client{
		apiKey:       apiKey,
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: 90 * time.Second},
		log:          log,
		pollInterval: consts.TranscodePollInterval,
		pollAttempts: consts.TranscodePollAttempts,
	}
}

// Convert submits raw audio for normalization and blocks until the converted
// blob is downloaded or the polling budget runs out.
func (c *Client) Convert(ctx context.Context, audio []byte, sourceFormat string) ([]byte, error) {
	c.log.Info("submitting conversion job",
		slog.Int("audio_bytes", len(audio)),
		slog.String("source_format", sourceFormat))

	jobID, err := c.submit(ctx, audio, sourceFormat)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	c.log.Debug("conversion job submitted", slog.String("job_id", jobID))

	var resultURL string
	err = poll.Until(ctx, c.pollInterval, c.pollAttempts, func(ctx context.Context) (bool, error) {
		status, err := c.jobStatus(ctx, jobID)
		if err != nil {
			return false, err
		}
		switch status.Status {
		case "completed":
			resultURL = status.ResultURL
			return true, nil
		case "error", "failed":
			return false, fmt.Errorf("conversion job reported error: %s", status.Error)
		default:
			return false, nil
		}
	})
	if errors.Is(err, poll.ErrExhausted) {
		return nil, fmt.Errorf("%w: conversion did not finish in time", ErrConversionFailed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}

	converted, err := c.download(ctx, resultURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	c.log.Info("conversion finished",
		slog.String("job_id", jobID),
		slog.Int("converted_bytes", len(converted)))

	return converted, nil
}

func (c *Client) submit(ctx context.Context, audio []byte, sourceFormat string) (string, error) {
	url := fmt.Sprintf("%s/v1/jobs?format=%s", c.baseURL, sourceFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(audio))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to submit conversion: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("submission rejected with status %d: %s", resp.StatusCode, string(body))
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode submit response: %w", err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("submission returned no job id")
	}
	return out.JobID, nil
}

func (c *Client) jobStatus(ctx context.Context, jobID string) (*jobStatusResponse, error) {
	url := fmt.Sprintf("%s/v1/jobs/%s", c.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to poll conversion job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("poll failed with status %d: %s", resp.StatusCode, string(body))
	}

	var out jobStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode poll response: %w", err)
	}
	return &out, nil
}

func (c *Client) download(ctx context.Context, resultURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download result: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
