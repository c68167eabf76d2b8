package server

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/culturaltourmate/tourmate/internal/i18n"
	"github.com/culturaltourmate/tourmate/pkg/media"
	"github.com/culturaltourmate/tourmate/pkg/turn"
)

// ErrorCode is a stable, client-facing error identifier.
type ErrorCode string

const (
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrCodeRateLimit         ErrorCode = "RATE_LIMIT"
	ErrCodeEmptyText         ErrorCode = "EMPTY_TEXT"
	ErrCodeMissingAttachment ErrorCode = "MISSING_ATTACHMENT"
	ErrCodeOversize          ErrorCode = "OVERSIZE"
	ErrCodeUnsupportedType   ErrorCode = "UNSUPPORTED_TYPE"
	ErrCodeBusy              ErrorCode = "BUSY"
	ErrCodeStale             ErrorCode = "STALE_COMPLETION"
	ErrCodeGeneration        ErrorCode = "GENERATION_FAILED"
	ErrCodeClosed            ErrorCode = "SESSION_CLOSED"
)

// APIError is the error body returned to clients. Message is localized;
// internal error text never reaches the client.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Kind    string    `json:"kind,omitempty"`
}

type errorResponse struct {
	Error APIError `json:"error"`
}

// classify maps err to an HTTP status and client-facing error.
func classify(err error, lang i18n.Lang) (int, APIError) {
	var (
		oversize *media.OversizeError
		valErr   *turn.ValidationError
		genErr   *turn.GenerationError
	)

	switch {
	case errors.As(err, &valErr):
		if valErr.Kind == turn.EmptyText {
			return http.StatusBadRequest, APIError{Code: ErrCodeEmptyText, Message: i18n.T(lang, i18n.WarnEmptyText)}
		}
		return http.StatusBadRequest, APIError{Code: ErrCodeMissingAttachment, Message: i18n.T(lang, i18n.WarnNeedImage)}
	case errors.As(err, &oversize):
		return http.StatusRequestEntityTooLarge, APIError{
			Code:    ErrCodeOversize,
			Message: i18n.Tf(lang, i18n.WarnOversize, media.HumanSize(oversize.Size), media.HumanSize(oversize.Limit)),
		}
	case errors.Is(err, media.ErrTooManyPixels):
		return http.StatusRequestEntityTooLarge, APIError{Code: ErrCodeOversize, Message: i18n.T(lang, i18n.WarnDimensions)}
	case errors.Is(err, media.ErrUnsupportedAudio):
		return http.StatusUnsupportedMediaType, APIError{Code: ErrCodeUnsupportedType, Message: i18n.T(lang, i18n.WarnAudio)}
	case errors.Is(err, turn.ErrNoAudio):
		return http.StatusBadRequest, APIError{Code: ErrCodeInvalidInput, Message: i18n.T(lang, i18n.WarnAudio)}
	case errors.Is(err, media.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType, APIError{Code: ErrCodeUnsupportedType, Message: i18n.T(lang, i18n.WarnUnsupported)}
	case errors.Is(err, turn.ErrBusy):
		return http.StatusConflict, APIError{Code: ErrCodeBusy, Message: i18n.T(lang, i18n.WarnBusy)}
	case errors.Is(err, turn.ErrStaleCompletion):
		return http.StatusConflict, APIError{Code: ErrCodeStale, Message: i18n.T(lang, i18n.Discarded)}
	case errors.Is(err, turn.ErrClosed):
		return http.StatusServiceUnavailable, APIError{Code: ErrCodeClosed, Message: "session is closed"}
	case errors.As(err, &genErr):
		return http.StatusBadGateway, APIError{
			Code:    ErrCodeGeneration,
			Message: i18n.T(lang, i18n.GenerationFailed),
			Kind:    genErr.Kind.String(),
		}
	}
	return http.StatusInternalServerError, APIError{Code: ErrCodeInternal, Message: "An internal error occurred"}
}

// abortWithError logs err server-side and writes the sanitized response.
func abortWithError(c *gin.Context, err error, lang i18n.Lang) {
	status, apiErr := classify(err, lang)

	evt := log.Debug()
	if status >= http.StatusInternalServerError {
		evt = log.Warn()
	}
	evt.Str("path", c.FullPath()).
		Int("status", status).
		Str("code", string(apiErr.Code)).
		Str("error", sanitizeLogMessage(err.Error())).
		Msg("Request failed")

	c.AbortWithStatusJSON(status, errorResponse{Error: apiErr})
}

func abortWithCode(c *gin.Context, status int, code ErrorCode, message string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: APIError{Code: code, Message: message}})
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_\-]{8,}`),
	regexp.MustCompile(`AIza[0-9A-Za-z_\-]{20,}`),
	regexp.MustCompile(`(?i)(api_?key|key|token)=[^&\s"]+`),
	regexp.MustCompile(`Bearer [A-Za-z0-9._\-]+`),
}

// sanitizeLogMessage redacts credentials that SDK errors sometimes echo,
// such as the key query parameter in a request URL.
func sanitizeLogMessage(msg string) string {
	for _, p := range secretPatterns {
		msg = p.ReplaceAllStringFunc(msg, func(m string) string {
			if i := strings.IndexByte(m, '='); i >= 0 {
				return m[:i+1] + "[REDACTED]"
			}
			return "[REDACTED]"
		})
	}
	return msg
}
