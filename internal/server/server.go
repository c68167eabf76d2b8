// Package server exposes the session over HTTP. One process hosts one
// session; every view is rendered from a transcript snapshot.
package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/culturaltourmate/tourmate/internal/i18n"
	"github.com/culturaltourmate/tourmate/pkg/media"
	metrics "github.com/culturaltourmate/tourmate/pkg/observability"
	"github.com/culturaltourmate/tourmate/pkg/session"
	"github.com/culturaltourmate/tourmate/pkg/turn"
)

// multipartOverhead is the allowance for form boundaries and headers on
// top of the image size cap.
const multipartOverhead = 64 * 1024

// Options configures the HTTP surface.
type Options struct {
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit float64
	Burst     int
	Intake    media.Intake

	// Events, when set, is served at /api/v1/session/events and receives
	// session changes made through the API.
	Events *Hub
}

// Server serves the session API.
type Server struct {
	ctrl   *turn.Controller
	intake media.Intake
	hub    *Hub
	engine *gin.Engine
}

// New creates the API for ctrl.
func New(ctrl *turn.Controller, opts Options) *Server {
	if opts.Intake.MaxBytes <= 0 {
		opts.Intake.MaxBytes = media.DefaultMaxBytes
	}
	if opts.Intake.MaxAudioBytes <= 0 {
		opts.Intake.MaxAudioBytes = media.DefaultMaxAudioBytes
	}

	s := &Server{
		ctrl:   ctrl,
		intake: opts.Intake,
		hub:    opts.Events,
		engine: gin.New(),
	}
	s.engine.MaxMultipartMemory = opts.Intake.MaxBytes + multipartOverhead
	s.engine.Use(gin.Recovery(), requestLogger())
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		s.engine.Use(NewRateLimiter(opts.RateLimit, burst).Middleware())
	}

	api := s.engine.Group("/api/v1/session")
	{
		api.GET("", s.getSession)
		api.POST("/attachment", s.stageAttachment)
		api.DELETE("/attachment", s.clearAttachment)
		api.POST("/turns", s.submitTurn)
		api.POST("/voice", s.transcribeVoice)
		api.GET("/transcript", s.getTranscript)
		api.POST("/reset", s.reset)
		api.PUT("/language", s.setLanguage)
		if s.hub != nil {
			api.GET("/events", s.events)
		}
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) lang() i18n.Lang {
	l, err := i18n.Parse(s.ctrl.Language())
	if err != nil {
		return i18n.Default
	}
	return l
}

type attachmentView struct {
	ID         string `json:"id"`
	MIMEType   string `json:"mimeType"`
	Size       int    `json:"size"`
	SourceSize int64  `json:"sourceSize"`
}

type sessionView struct {
	ID       string          `json:"id"`
	Provider string          `json:"provider"`
	Language string          `json:"language"`
	Title    string          `json:"title"`
	Policy   string          `json:"attachmentPolicy"`
	State    string          `json:"state"`
	Busy     bool            `json:"busy"`
	Turns    int             `json:"turns"`
	Staged   *attachmentView `json:"staged"`
}

func viewAttachment(a session.Attachment) *attachmentView {
	return &attachmentView{ID: a.ID, MIMEType: a.MIMEType, Size: len(a.Data), SourceSize: a.SourceSize}
}

func (s *Server) sessionView() sessionView {
	store := s.ctrl.Store()
	lang := s.lang()
	v := sessionView{
		ID:       store.ID(),
		Provider: s.ctrl.Provider(),
		Language: string(lang),
		Title:    i18n.T(lang, i18n.Title),
		Policy:   s.ctrl.Policy().String(),
		State:    s.ctrl.State().String(),
		Busy:     s.ctrl.Busy(),
		Turns:    store.Snapshot().TurnCount(),
	}
	if att, ok := store.Staged(); ok {
		v.Staged = viewAttachment(att)
	}
	return v
}

func (s *Server) publish(eventType string) {
	if s.hub == nil {
		return
	}
	v := s.sessionView()
	s.hub.Publish(Event{Type: eventType, Session: &v})
}

// events streams session changes over a websocket, starting with the
// current session view.
// GET /api/v1/session/events
func (s *Server) events(c *gin.Context) {
	v := s.sessionView()
	s.hub.ServeWS(c.Writer, c.Request, Event{Type: EventConnected, Session: &v})
}

// getSession reports the session status.
// GET /api/v1/session
func (s *Server) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessionView())
}

// stageAttachment stages the "image" form file, replacing any staged image.
// POST /api/v1/session/attachment
func (s *Server) stageAttachment(c *gin.Context) {
	lang := s.lang()
	limit := s.intake.MaxBytes
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)

	fh, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.RecordAttachmentRejected("oversize")
			abortWithError(c, &media.OversizeError{Size: c.Request.ContentLength, Limit: limit}, lang)
			return
		}
		abortWithCode(c, http.StatusBadRequest, ErrCodeInvalidInput, `multipart field "image" is required`)
		return
	}
	if fh.Size > limit {
		metrics.RecordAttachmentRejected("oversize")
		abortWithError(c, &media.OversizeError{Size: fh.Size, Limit: limit}, lang)
		return
	}

	f, err := fh.Open()
	if err != nil {
		abortWithError(c, fmt.Errorf("open upload: %w", err), lang)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		abortWithError(c, fmt.Errorf("read upload: %w", err), lang)
		return
	}

	att, err := s.intake.Prepare(data, fh.Header.Get("Content-Type"))
	if err != nil {
		reason := "invalid"
		var oversize *media.OversizeError
		switch {
		case errors.As(err, &oversize):
			reason = "oversize"
		case errors.Is(err, media.ErrTooManyPixels):
			reason = "dimensions"
		case errors.Is(err, media.ErrUnsupportedType):
			reason = "unsupported"
		case errors.Is(err, media.ErrEmpty):
			metrics.RecordAttachmentRejected("empty")
			abortWithCode(c, http.StatusBadRequest, ErrCodeInvalidInput, err.Error())
			return
		}
		metrics.RecordAttachmentRejected(reason)
		abortWithError(c, err, lang)
		return
	}

	staged := s.ctrl.Store().Stage(att)
	metrics.RecordAttachmentStaged(staged.MIMEType, len(staged.Data))
	log.Debug().
		Str("session_id", s.ctrl.Store().ID()).
		Str("attachment_id", staged.ID).
		Str("mime_type", staged.MIMEType).
		Int64("source_size", staged.SourceSize).
		Int("size", len(staged.Data)).
		Msg("Attachment staged")
	s.publish(EventAttachment)

	c.JSON(http.StatusCreated, gin.H{
		"attachment": viewAttachment(staged),
		"message":    i18n.Tf(lang, i18n.ImageStaged, media.HumanSize(int64(len(staged.Data)))),
	})
}

// clearAttachment discards the staged image.
// DELETE /api/v1/session/attachment
func (s *Server) clearAttachment(c *gin.Context) {
	s.ctrl.Store().ClearAttachment()
	s.publish(EventAttachment)
	c.Status(http.StatusNoContent)
}

type turnRequest struct {
	Text string `json:"text"`
}

type turnResponse struct {
	User       session.Turn `json:"user"`
	Assistant  session.Turn `json:"assistant"`
	Model      string       `json:"model,omitempty"`
	TokensIn   int          `json:"tokensIn"`
	TokensOut  int          `json:"tokensOut"`
	DurationMS int64        `json:"durationMs"`
}

func newTurnResponse(res *turn.Result) turnResponse {
	return turnResponse{
		User:       res.User,
		Assistant:  res.Assistant,
		Model:      res.Model,
		TokensIn:   res.Usage.PromptTokens,
		TokensOut:  res.Usage.CompletionTokens,
		DurationMS: res.Duration.Milliseconds(),
	}
}

// submitTurn asks a question about the staged image and waits for the
// answer.
// POST /api/v1/session/turns
func (s *Server) submitTurn(c *gin.Context) {
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithCode(c, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request: "+err.Error())
		return
	}

	res, err := s.ctrl.Submit(c.Request.Context(), req.Text)
	if err != nil {
		abortWithError(c, err, s.lang())
		return
	}

	c.JSON(http.StatusOK, newTurnResponse(res))
}

type voiceResponse struct {
	Text    string        `json:"text"`
	Message string        `json:"message"`
	Turn    *turnResponse `json:"turn,omitempty"`
}

// transcribeVoice turns the "audio" form file (MP3 or WAV) into question
// text. With submit=true the text is then asked about the staged image.
// POST /api/v1/session/voice
func (s *Server) transcribeVoice(c *gin.Context) {
	lang := s.lang()
	limit := s.intake.MaxAudioBytes
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)

	fh, err := c.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithError(c, &media.OversizeError{Size: c.Request.ContentLength, Limit: limit}, lang)
			return
		}
		abortWithCode(c, http.StatusBadRequest, ErrCodeInvalidInput, `multipart field "audio" is required`)
		return
	}
	f, err := fh.Open()
	if err != nil {
		abortWithError(c, fmt.Errorf("open upload: %w", err), lang)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		abortWithError(c, fmt.Errorf("read upload: %w", err), lang)
		return
	}
	clip, err := s.intake.PrepareAudio(data, fh.Header.Get("Content-Type"))
	if err != nil {
		if errors.Is(err, media.ErrEmpty) {
			abortWithCode(c, http.StatusBadRequest, ErrCodeInvalidInput, err.Error())
			return
		}
		abortWithError(c, err, lang)
		return
	}

	text, err := s.ctrl.Transcribe(c.Request.Context(), clip.MIMEType, clip.Data)
	if err != nil {
		abortWithError(c, err, lang)
		return
	}
	resp := voiceResponse{Text: text, Message: i18n.Tf(lang, i18n.VoiceRecognized, text)}

	if c.Query("submit") == "true" {
		res, err := s.ctrl.Submit(c.Request.Context(), text)
		if err != nil {
			abortWithError(c, err, lang)
			return
		}
		tr := newTurnResponse(res)
		resp.Turn = &tr
	}
	c.JSON(http.StatusOK, resp)
}

// getTranscript returns the conversation in order. The primer is never
// included.
// GET /api/v1/session/transcript
func (s *Server) getTranscript(c *gin.Context) {
	turns := s.ctrl.Store().Snapshot().Turns()
	if turns == nil {
		turns = []session.Turn{}
	}
	lang := s.lang()
	c.JSON(http.StatusOK, gin.H{
		"sessionId": s.ctrl.Store().ID(),
		"turns":     turns,
		"labels": gin.H{
			"user":      i18n.T(lang, i18n.UserLabel),
			"assistant": i18n.T(lang, i18n.AssistantLabel),
		},
	})
}

// reset clears the conversation and the staged image.
// POST /api/v1/session/reset
func (s *Server) reset(c *gin.Context) {
	if err := s.ctrl.Reset(c.Request.Context()); err != nil {
		abortWithError(c, err, s.lang())
		return
	}
	s.publish(EventReset)
	c.JSON(http.StatusOK, gin.H{
		"session": s.sessionView(),
		"message": i18n.T(s.lang(), i18n.SessionReset),
	})
}

type languageRequest struct {
	Language string `json:"language" binding:"required"`
}

// setLanguage switches the answer and interface language.
// PUT /api/v1/session/language
func (s *Server) setLanguage(c *gin.Context) {
	var req languageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithCode(c, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request: "+err.Error())
		return
	}
	lang, err := i18n.Parse(req.Language)
	if err != nil {
		abortWithCode(c, http.StatusBadRequest, ErrCodeInvalidInput, err.Error())
		return
	}
	s.ctrl.SetLanguage(string(lang))
	s.publish(EventLanguage)
	c.JSON(http.StatusOK, gin.H{
		"language": string(lang),
		"message":  i18n.T(lang, i18n.LanguageChanged),
	})
}
