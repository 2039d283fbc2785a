package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackhunterking/legal-memo-backend/pkg/logger"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/entity"
)

const speakerSystemPrompt = `You identify the people behind anonymous speaker labels in a meeting transcript.
Use ONLY identity clues stated in the transcript itself: self-introductions, direct address by name, or explicit role language.
Never invent or guess a name. If a speaker cannot be identified, give their likely role instead (for example "Client" or "Attorney"), or omit the label entirely.
Respond with a single flat JSON object mapping each speaker label to a name or role string, nothing else.`

// enhanceSpeakers maps anonymous labels to names or roles with one
// text-generation call. Advisory: any service or parse failure yields an
// empty map, and the pipeline carries on.
func (u *usecase) enhanceSpeakers(ctx context.Context, rec *entity.Recording, transcript string) map[string]string {
	log := logger.FromContext(ctx)

	var b strings.Builder
	if rec.ContactName != "" {
		fmt.Fprintf(&b, "Known context: the primary contact is %s", rec.ContactName)
		if rec.ContactCompany != "" {
			fmt.Fprintf(&b, " of %s", rec.ContactCompany)
		}
		b.WriteString(".\n")
	}
	if rec.ExpectedSpeakers > 0 {
		fmt.Fprintf(&b, "%d speakers were expected.\n", rec.ExpectedSpeakers)
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(transcript)

	raw, err := u.llm.Complete(ctx, speakerSystemPrompt, b.String())
	if err != nil {
		log.Warn("speaker identification failed", "error", err)
		return nil
	}

	names, err := parseSpeakerNames(raw)
	if err != nil {
		log.Warn("speaker identification response unparseable", "error", err)
		return nil
	}
	log.Info("speakers identified", "count", len(names))

	return names
}

// parseSpeakerNames requires a flat label to string object. Anything else,
// including nested values, is rejected wholesale so a corrupted partial
// mapping is never stored.
func parseSpeakerNames(raw string) (map[string]string, error) {
	raw = stripCodeFence(raw)

	var names map[string]string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, fmt.Errorf("not a flat label map: %w", err)
	}

	for label, name := range names {
		if strings.TrimSpace(label) == "" || strings.TrimSpace(name) == "" {
			delete(names, label)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("mapping is empty")
	}
	return names, nil
}

// stripCodeFence unwraps a ```json ... ``` block when the model adds one.
func stripCodeFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	return strings.TrimSpace(raw)
}
