package realtime

import (
	"encoding/json"
	"fmt"
)

// The realtime speech service multiplexes every server-to-client message
// over one socket. Messages form a closed union dispatched on the "type"
// tag, never on the presence of optional fields.

type MessageType string

const (
	TypeBegin       MessageType = "Begin"
	TypeTurn        MessageType = "Turn"
	TypeTermination MessageType = "Termination"
	TypeError       MessageType = "Error"
)

type Message interface {
	Type() MessageType
}

type BeginMessage struct {
	SessionID string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

func (BeginMessage) Type() MessageType { return TypeBegin }

type Word struct {
	Text       string  `json:"text"`
	StartMs    int     `json:"start"`
	EndMs      int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

type TurnMessage struct {
	Transcript string  `json:"transcript"`
	Speaker    string  `json:"speaker"`
	Words      []Word  `json:"words"`
	EndOfTurn  bool    `json:"end_of_turn"`
	Confidence float64 `json:"end_of_turn_confidence"`
}

func (TurnMessage) Type() MessageType { return TypeTurn }

// StartMs and EndMs span the turn's words. A turn with no word timing spans
// nothing and both return zero.
func (m TurnMessage) StartMs() int {
	if len(m.Words) == 0 {
		return 0
	}
	return m.Words[0].StartMs
}

func (m TurnMessage) EndMs() int {
	if len(m.Words) == 0 {
		return 0
	}
	return m.Words[len(m.Words)-1].EndMs
}

type TerminationMessage struct {
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

func (TerminationMessage) Type() MessageType { return TypeTermination }

type ErrorMessage struct {
	Error string `json:"error"`
}

func (ErrorMessage) Type() MessageType { return TypeError }

type envelope struct {
	Type MessageType `json:"type"`
}

// ParseMessage decodes one wire message into its union variant. Unknown
// tags are an error: the union is closed.
func ParseMessage(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode message envelope: %w", err)
	}

	switch env.Type {
	case TypeBegin:
		var m BeginMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode begin message: %w", err)
		}
		return m, nil
	case TypeTurn:
		var m TurnMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode turn message: %w", err)
		}
		return m, nil
	case TypeTermination:
		var m TerminationMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode termination message: %w", err)
		}
		return m, nil
	case TypeError:
		var m ErrorMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to decode error message: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}
