package session

import (
	"github.com/jackhunterking/legal-memo-backend/gateways/stream/clients/realtime"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/consts"
)

// Turn is a continuous speaker-attributed span built from one or more
// finalized utterances.
type Turn struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	StartMs    int     `json:"start_ms"`
	EndMs      int     `json:"end_ms"`
	Confidence float64 `json:"confidence"`

	pieces int
}

// appendFinal merges the utterance into the last turn when the speaker
// matches and the gap to the previous end is within the merge window;
// otherwise it starts a new turn. Merging concatenates text and averages
// confidence across the merged pieces, producing readable multi-sentence
// turns instead of one turn per utterance fragment.
func appendFinal(turns []Turn, f realtime.Final) []Turn {
	if n := len(turns); n > 0 {
		last := &turns[n-1]
		if last.Speaker == f.Speaker && f.StartMs-last.EndMs <= consts.TurnMergeGapMs {
			last.Text += " " + f.Text
			last.EndMs = f.EndMs
			last.Confidence = (last.Confidence*float64(last.pieces) + f.Confidence) / float64(last.pieces+1)
			last.pieces++
			return turns
		}
	}

	return append(turns, Turn{
		Speaker:    f.Speaker,
		Text:       f.Text,
		StartMs:    f.StartMs,
		EndMs:      f.EndMs,
		Confidence: f.Confidence,
		pieces:     1,
	})
}
