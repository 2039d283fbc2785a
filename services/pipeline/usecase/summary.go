package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackhunterking/legal-memo-backend/pkg/logger"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/clients/speech"
	"github.com/jackhunterking/legal-memo-backend/services/pipeline/entity"
)

// SummaryUnavailable is the fixed sentinel stored when summarization fails.
// A missing summary must never fail an otherwise-successful transcription.
const SummaryUnavailable = "Summary unavailable for this meeting."

const summarySystemPrompt = `You write structured summaries of professional meetings for the person who recorded them.
Produce exactly these sections, each as a markdown heading followed by its content:
## Overview
## Key Discussion Points
## Decisions
## Action Items
## Notable Statements
## Follow-ups
When a section has no applicable content, use its fallback line verbatim:
Overview: "No overview available."
Key Discussion Points: "No key points identified."
Decisions: "No formal decisions recorded."
Action Items: "No action items identified."
Notable Statements: "No notable statements captured."
Follow-ups: "No follow-ups noted."
Be factual and concise. Do not add sections.`

// summarize produces the structured summary text for the finished
// transcript. On any failure it returns the sentinel, never an empty string
// and never an error.
func (u *usecase) summarize(ctx context.Context, rec *entity.Recording, result *speech.Result, names map[string]string) string {
	log := logger.FromContext(ctx)

	var b strings.Builder
	if rec.Title != "" {
		fmt.Fprintf(&b, "Meeting title: %s\n", rec.Title)
	}
	if rec.MeetingType != "" {
		fmt.Fprintf(&b, "Meeting category: %s\n", rec.MeetingType)
	}
	if rec.ContactName != "" {
		fmt.Fprintf(&b, "Primary contact: %s", rec.ContactName)
		if rec.ContactCompany != "" {
			fmt.Fprintf(&b, " (%s)", rec.ContactCompany)
		}
		b.WriteString("\n")
	}
	if len(names) > 0 {
		b.WriteString("Identified speakers:\n")
		for label, name := range names {
			fmt.Fprintf(&b, "  %s: %s\n", label, name)
		}
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(result.Text)

	summary, err := u.llm.Complete(ctx, summarySystemPrompt, b.String())
	if err != nil {
		log.Warn("summarization failed", "error", err)
		return SummaryUnavailable
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		log.Warn("summarization returned empty text")
		return SummaryUnavailable
	}
	log.Info("summary generated", "length", len(summary))

	return summary
}
