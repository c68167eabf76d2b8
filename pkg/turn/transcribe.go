package turn

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/culturaltourmate/tourmate/internal/i18n"
	"github.com/culturaltourmate/tourmate/internal/llm/provider"
)

// ErrNoAudio is returned by Transcribe for an empty recording.
var ErrNoAudio = errors.New("no audio to transcribe")

// Transcribe turns a recorded question into text with one generation
// call. The recording is sent as an inline media part with a prompt in
// the session language. It neither reads nor changes the store and may
// run while a submission is in flight; the caller submits the text.
func (c *Controller) Transcribe(ctx context.Context, mimeType string, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", ErrNoAudio
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	lang := c.lang
	c.mu.Unlock()

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.lifetime, cancel)
	defer stop()
	if c.timeout > 0 {
		var cancelTimeout context.CancelFunc
		callCtx, cancelTimeout = context.WithTimeout(callCtx, c.timeout)
		defer cancelTimeout()
	}

	start := time.Now()
	resp, err := c.gen.Generate(callCtx, provider.GenerateRequest{
		Model: c.model,
		Parts: []provider.Part{
			provider.TextPart(i18n.TranscriptionPrompt(lang)),
			provider.MediaPart(mimeType, audio),
		},
	})
	if err == nil && (resp == nil || strings.TrimSpace(resp.Text) == "") {
		err = provider.NewProviderError(c.gen.Name(), provider.ErrorCodeMalformedResponse, "transcription is empty", nil)
	}
	if err != nil {
		log.Debug().Err(err).Str("session_id", c.store.ID()).Msg("Transcription failed")
		return "", newGenerationError(err)
	}

	text := strings.TrimSpace(resp.Text)
	log.Debug().
		Str("session_id", c.store.ID()).
		Str("mime_type", mimeType).
		Int("audio_bytes", len(audio)).
		Int("chars", len([]rune(text))).
		Dur("duration", time.Since(start)).
		Msg("Question transcribed")
	return text, nil
}
