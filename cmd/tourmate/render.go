package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/culturaltourmate/tourmate/internal/i18n"
	"github.com/culturaltourmate/tourmate/pkg/media"
	"github.com/culturaltourmate/tourmate/pkg/session"
	"github.com/culturaltourmate/tourmate/pkg/turn"
)

func langOf(ctrl *turn.Controller) i18n.Lang {
	l, err := i18n.Parse(ctrl.Language())
	if err != nil {
		return i18n.Default
	}
	return l
}

// renderTranscript prints every turn with its speaker label. The primer
// is never shown.
func renderTranscript(w io.Writer, transcript session.Transcript, lang i18n.Lang) {
	turns := transcript.Turns()
	if len(turns) == 0 {
		fmt.Fprintln(w, i18n.T(lang, i18n.HistoryEmpty))
		return
	}
	for _, t := range turns {
		renderTurn(w, t, lang)
	}
}

func renderTurn(w io.Writer, t session.Turn, lang i18n.Lang) {
	label := i18n.T(lang, i18n.UserLabel)
	if t.Role == session.RoleAssistant {
		label = i18n.T(lang, i18n.AssistantLabel)
	}
	fmt.Fprintf(w, "%s: %s\n", label, t.Text)
}

// describeError turns an error into a localized warning for the user.
// Unknown errors are shown as is.
func describeError(err error, lang i18n.Lang) string {
	var (
		oversize *media.OversizeError
		genErr   *turn.GenerationError
	)
	switch {
	case turn.IsValidation(err, turn.EmptyText):
		return i18n.T(lang, i18n.WarnEmptyText)
	case turn.IsValidation(err, turn.MissingAttachment):
		return i18n.T(lang, i18n.WarnNeedImage)
	case errors.As(err, &oversize):
		return i18n.Tf(lang, i18n.WarnOversize, media.HumanSize(oversize.Size), media.HumanSize(oversize.Limit))
	case errors.Is(err, media.ErrTooManyPixels):
		return i18n.T(lang, i18n.WarnDimensions)
	case errors.Is(err, media.ErrUnsupportedType):
		return i18n.T(lang, i18n.WarnUnsupported)
	case errors.Is(err, media.ErrUnsupportedAudio), errors.Is(err, turn.ErrNoAudio):
		return i18n.T(lang, i18n.WarnAudio)
	case errors.Is(err, turn.ErrBusy):
		return i18n.T(lang, i18n.WarnBusy)
	case errors.Is(err, turn.ErrStaleCompletion):
		return i18n.T(lang, i18n.Discarded)
	case errors.As(err, &genErr):
		return fmt.Sprintf("%s (%s)", i18n.T(lang, i18n.GenerationFailed), genErr.Kind)
	}
	return err.Error()
}
