// Package speech declares the bare STT/TTS interfaces the orchestrator's
// HTTP surface depends on. No concrete engine ships in this module: wiring
// a real speech provider behind these interfaces is explicitly out of
// scope (SPEC_FULL.md §1, A5).
package speech

import "context"

// Transcript is the result of speech-to-text on one audio clip.
type Transcript struct {
	Text     string
	Model    string
	Metadata map[string]any
}

// Transcriber converts audio bytes to text. Implementations are expected
// to be thin wrappers around an external STT engine (e.g. Whisper); this
// module ships none.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (Transcript, error)
}

// Synthesizer converts text to audio bytes. Implementations are expected
// to be thin wrappers around an external TTS engine; this module ships
// none.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio []byte, mimeType string, err error)
}
