// Package realtime relays audio chunks to the streaming speech service over
// a duplex websocket. The connection is per-chunk: turn continuity lives in
// the caller, so a dropped connection costs one chunk, never the session.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jackhunterking/legal-memo-backend/services/pipeline/consts"
)

type Client struct {
	apiKey  string
	url     string
	dialer  *websocket.Dialer
	timeout time.Duration
	log     *slog.Logger
}

// Final is one finalized utterance from the service.
type Final struct {
	Speaker    string
	Text       string
	StartMs    int
	EndMs      int
	Confidence float64
}

// RelayResult is everything one chunk produced: the latest partial text and
// zero or more finalized utterances.
type RelayResult struct {
	SessionID            string
	Partial              string
	Finals               []Final
	AudioDurationSeconds float64
}

func New(apiKey, url string, log *slog.Logger) *Client {
	return &Client{
		apiKey: apiKey,
		url:    url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		timeout: consts.ChunkRelayTimeout,
		log:     log,
	}
}

// RelayChunk opens a fresh connection, sends the chunk and a terminate
// signal, then collects messages until termination, an error message, or
// the relay timeout, whichever comes first.
func (c *Client) RelayChunk(ctx context.Context, audio []byte) (*RelayResult, error) {
	header := http.Header{}
	header.Set("Authorization", c.apiKey)

	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial speech service: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return nil, fmt.Errorf("failed to send audio: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Terminate"}`)); err != nil {
		return nil, fmt.Errorf("failed to send terminate signal: %w", err)
	}

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetReadDeadline(deadline)

	result := &RelayResult{}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// Timed out or closed: keep whatever was collected so far.
			c.log.Debug("relay read ended", slog.String("reason", err.Error()))
			return result, nil
		}

		msg, err := ParseMessage(data)
		if err != nil {
			c.log.Warn("skipping undecodable message", slog.String("error", err.Error()))
			continue
		}

		switch m := msg.(type) {
		case BeginMessage:
			result.SessionID = m.SessionID
		case TurnMessage:
			if m.EndOfTurn {
				// A finalized stretch clears the pending partial.
				result.Partial = ""
				result.Finals = append(result.Finals, Final{
					Speaker:    m.Speaker,
					Text:       m.Transcript,
					StartMs:    m.StartMs(),
					EndMs:      m.EndMs(),
					Confidence: m.Confidence,
				})
			} else {
				// Partials replace each other wholesale.
				result.Partial = m.Transcript
			}
		case TerminationMessage:
			result.AudioDurationSeconds = m.AudioDurationSeconds
			return result, nil
		case ErrorMessage:
			return nil, fmt.Errorf("speech service error: %s", m.Error)
		}
	}
}
