// Package speech wraps the external speech-to-text service: batch
// transcription with diarization, submitted by audio URL and polled until a
// terminal state.
package speech

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

var ErrTranscriptionFailed = errors.New("transcription failed")

const (
	// ModelEnglish is the highest-accuracy English-only model.
	ModelEnglish = "slam-1"
	// ModelUniversal handles every other language.
	ModelUniversal = "universal"
)

// ChooseModel is a data-driven branch, not configuration: English recordings
// get the specialized model, everything else the multilingual one.
func ChooseModel(language string) string {
	if language == consts.DefaultLanguage {
		return ModelEnglish
	}
	return ModelUniversal
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger

	pollInterval time.Duration
	pollAttempts int
}

type SubmitRequest struct {
	AudioURL         string
	ExpectedSpeakers int
	Language         string
	Model            string
}

type Utterance struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	StartMs    int     `json:"start"`
	EndMs      int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

type Result struct {
	ID         string
	Text       string
	Utterances []Utterance
	Model      string
}

// DistinctSpeakers counts the unique speaker labels in the result.
func (r *Result) DistinctSpeakers() int {
	seen := make(map[string]struct{})
	for _, u := range r.Utterances {
		seen[u.Speaker] = struct{}{}
	}
	return len(seen)
}

func New(apiKey, baseURL string, log *slog.Logger) *Client {
	return &Client{
		apiKey:       apiKey,
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: 90 * time.Second},
		log:          log,
		pollInterval: consts.TranscribePollInterval,
		pollAttempts: consts.TranscribePollAttempts,
	}
}

type submitPayload struct {
	AudioURL         string `json:"audio_url"`
	SpeakerLabels    bool   `json:"speaker_labels"`
	SpeakersExpected int    `json:"speakers_expected,omitempty"`
	LanguageCode     string `json:"language_code"`
	SpeechModel      string `json:"speech_model"`
}

type transcriptResponse struct {
	ID         string      `json:"id"`
	Status     string      `json:"status"`
	Text       string      `json:"text"`
	Utterances []Utterance `json:"utterances"`
	Error      string      `json:"error"`
}

// Transcribe submits the audio URL and blocks until the transcript reaches a
// terminal state or the polling budget runs out.
func (c *Client) Transcribe(ctx context.Context, req SubmitRequest) (*Result, error) {
	c.log.Info("submitting transcription",
		slog.String("model", req.Model),
		slog.String("language", req.Language),
		slog.Int("speakers_expected", req.ExpectedSpeakers))

	id, err := c.submit(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	c.log.Debug("transcription submitted", slog.String("transcript_id", id))

	var result *Result
	err = poll.Until(ctx, c.pollInterval, c.pollAttempts, func(ctx context.Context) (bool, error) {
		resp, err := c.getTranscript(ctx, id)
		if err != nil {
			return false, err
		}
		switch resp.Status {
		case "completed":
			result = &Result{
				ID:         resp.ID,
				Text:       resp.Text,
				Utterances: resp.Utterances,
				Model:      req.Model,
			}
			return true, nil
		case "error":
			return false, fmt.Errorf("transcription reported error: %s", resp.Error)
		default:
			return false, nil
		}
	})
	if errors.Is(err, poll.ErrExhausted) {
		return nil, fmt.Errorf("%w: transcription did not finish in time", ErrTranscriptionFailed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}

	c.log.Info("transcription completed",
		slog.String("transcript_id", result.ID),
		slog.Int("utterances", len(result.Utterances)),
		slog.Int("text_length", len(result.Text)))

	return result, nil
}

func (c *Client) submit(ctx context.Context, req SubmitRequest) (string, error) {
	payload := submitPayload{
		AudioURL:         req.AudioURL,
		SpeakerLabels:    true,
		SpeakersExpected: req.ExpectedSpeakers,
		LanguageCode:     req.Language,
		SpeechModel:      req.Model,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v2/transcript", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to submit transcription: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("submission rejected with status %d: %s", resp.StatusCode, string(raw))
	}

	var out transcriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode submit response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("submission returned no transcript id")
	}
	return out.ID, nil
}

func (c *Client) getTranscript(ctx context.Context, id string) (*transcriptResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v2/transcript/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to poll transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("poll failed with status %d: %s", resp.StatusCode, string(raw))
	}

	var out transcriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode transcript response: %w", err)
	}
	return &out, nil
}
