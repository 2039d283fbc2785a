package consts

import "time"

const (
	// Audio formats
	FormatWAV  = "wav"
	FormatMP3  = "mp3"
	FormatM4A  = "m4a"
	FormatWebM = "webm"

	DefaultLanguage = "en"

	// Transcoding poll budget: 60 attempts at 5s gives a 5-minute ceiling.
	TranscodePollInterval = 5 * time.Second
	TranscodePollAttempts = 60

	// Transcription scales with audio length, so it gets twice the budget.
	TranscribePollInterval = 5 * time.Second
	TranscribePollAttempts = 120

	// Streaming sessions expire an hour after start.
	SessionTTL = time.Hour

	// A chunk relay collects messages for at most this long.
	ChunkRelayTimeout = 12 * time.Second

	// Final segments from the same speaker merge into one turn when the
	// gap between them is at most this many milliseconds.
	TurnMergeGapMs = 2000

	// SignedURLTTL bounds how long the speech service can fetch audio.
	SignedURLTTL = time.Hour
)
