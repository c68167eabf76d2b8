// Package turn runs one question/answer exchange against the generation
// service and folds the reply into a session store.
package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/culturaltourmate/tourmate/internal/i18n"
	"github.com/culturaltourmate/tourmate/internal/llm/provider"
	"github.com/culturaltourmate/tourmate/internal/llm/window"
	metrics "github.com/culturaltourmate/tourmate/pkg/observability"
	"github.com/culturaltourmate/tourmate/pkg/session"
)

const journalTimeout = 5 * time.Second

// Result describes a committed submission.
type Result struct {
	User      session.Turn
	Assistant session.Turn
	Model     string
	Usage     provider.Usage
	Duration  time.Duration
}

// Submission is one in-flight generation call. It is safe for concurrent use.
type Submission struct {
	id     string
	text   string
	done   chan struct{}
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	cancelled bool
	result    *Result
	err       error
}

// ID returns the submission identifier.
func (s *Submission) ID() string {
	return s.id
}

// Done is closed once the submission reaches a terminal state.
func (s *Submission) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the submission finishes.
func (s *Submission) Wait() (*Result, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

// Cancel abandons the submission. A reply that still arrives is discarded.
func (s *Submission) Cancel() {
	s.mu.Lock()
	if !s.state.Terminal() {
		s.cancelled = true
	}
	s.mu.Unlock()
	s.cancel()
}

// State returns the submission state.
func (s *Submission) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Submission) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *Submission) finish(state State, result *Result, err error) {
	s.mu.Lock()
	s.state = state
	s.result = result
	s.err = err
	s.mu.Unlock()
	close(s.done)
}

// Controller validates submissions, performs exactly one generation call
// per accepted submission and commits the USER/ASSISTANT pair atomically.
// One submission runs at a time; a second Start while one is in flight
// fails with ErrBusy.
type Controller struct {
	store *session.Store
	gen   provider.Provider

	model       string
	directive   DirectiveFunc
	policy      AttachmentPolicy
	history     bool
	window      *window.Manager
	temperature float64
	maxTokens   int
	timeout     time.Duration
	journal     session.Journal
	hook        func(State)

	// lifetime is cancelled by Close.
	lifetime context.Context
	shutdown context.CancelFunc

	mu       sync.Mutex
	lang     string
	state    State
	inflight *Submission
	closed   bool

	// jmu orders journal writes. It is acquired while mu is held and
	// released after the journal call, so journal operations happen in
	// commit order without holding mu across I/O.
	jmu sync.Mutex
}

// New creates a controller for store using gen as the generation service.
func New(store *session.Store, gen provider.Provider, opts ...Option) *Controller {
	lifetime, shutdown := context.WithCancel(context.Background())
	c := &Controller{
		store:     store,
		gen:       gen,
		directive: i18n.Directive,
		history:   true,
		window:    window.NewManager(),
		journal:   session.NopJournal{},
		lifetime:  lifetime,
		shutdown:  shutdown,
		lang:      string(i18n.Default),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the session store the controller commits to.
func (c *Controller) Store() *session.Store {
	return c.store
}

// Submit runs a submission to completion.
func (c *Controller) Submit(ctx context.Context, userText string) (*Result, error) {
	sub, err := c.Start(ctx, userText)
	if err != nil {
		return nil, err
	}
	return sub.Wait()
}

// Start validates the submission and, if accepted, issues the generation
// call in the background. Validation failures return a *ValidationError and
// leave the store untouched; no call is made.
func (c *Controller) Start(ctx context.Context, userText string) (*Submission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.inflight != nil {
		metrics.RecordTurn("busy")
		return nil, ErrBusy
	}

	c.transition(StateValidating)

	text := strings.TrimSpace(userText)
	if text == "" {
		return nil, c.reject(EmptyText)
	}
	att, version, ok := c.store.StagedAt()
	if !ok {
		return nil, c.reject(MissingAttachment)
	}

	req := c.buildRequest(text, att)

	callCtx, cancel := context.WithCancel(ctx)
	stopLifetime := context.AfterFunc(c.lifetime, cancel)
	cancelTimeout := context.CancelFunc(func() {})
	if c.timeout > 0 {
		callCtx, cancelTimeout = context.WithTimeout(callCtx, c.timeout)
	}
	release := func() {
		stopLifetime()
		cancelTimeout()
		cancel()
	}

	sub := &Submission{
		id:     uuid.New().String(),
		text:   text,
		done:   make(chan struct{}),
		cancel: cancel,
		state:  StateCalling,
	}
	c.inflight = sub
	c.transition(StateCalling)
	metrics.TurnStarted()

	log.Debug().
		Str("session_id", c.store.ID()).
		Str("submission_id", sub.id).
		Str("provider", c.gen.Name()).
		Str("language", c.lang).
		Int("history", len(req.History)).
		Msg("Submitting turn")

	go c.run(callCtx, sub, req, version, att.ID, release)

	return sub, nil
}

func (c *Controller) reject(kind ValidationKind) error {
	c.transition(StateRejected)
	c.transition(StateIdle)
	metrics.RecordTurn("rejected")
	log.Debug().Str("session_id", c.store.ID()).Stringer("reason", kind).Msg("Turn rejected")
	return &ValidationError{Kind: kind}
}

// buildRequest assembles [directive, question, image] with the primer as
// system instruction and prior turns as history.
func (c *Controller) buildRequest(text string, att session.Attachment) provider.GenerateRequest {
	req := provider.GenerateRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	snap := c.store.Snapshot()
	if primer, ok := snap.Primer(); ok {
		req.SystemInstruction = primer.Text
	}
	if c.history {
		for _, t := range snap.Turns() {
			role := provider.RoleUser
			if t.Role == session.RoleAssistant {
				role = provider.RoleAssistant
			}
			req.History = append(req.History, provider.Message{Role: role, Content: t.Text})
		}
	}

	if c.directive != nil {
		if d := c.directive(c.lang); d != "" {
			req.Parts = append(req.Parts, provider.TextPart(d))
		}
	}
	req.Parts = append(req.Parts,
		provider.TextPart(text),
		provider.MediaPart(att.MIMEType, att.Data),
	)

	if c.window != nil && len(req.History) > 0 {
		if dropped := c.window.Fit(&req); dropped > 0 {
			st := c.window.Statistics(req)
			log.Debug().
				Str("session_id", c.store.ID()).
				Int("dropped", dropped).
				Int("kept", st.History).
				Int("prompt_tokens", st.Used).
				Int("available_tokens", st.Available).
				Msg("History trimmed to fit context window")
		}
	}
	return req
}

func (c *Controller) run(ctx context.Context, sub *Submission, req provider.GenerateRequest, version uint64, attachmentID string, release func()) {
	defer metrics.TurnFinished()

	start := time.Now()
	resp, genErr := c.gen.Generate(ctx, req)
	elapsed := time.Since(start)
	if genErr == nil && (resp == nil || strings.TrimSpace(resp.Text) == "") {
		genErr = provider.NewProviderError(c.gen.Name(), provider.ErrorCodeMalformedResponse, "reply has no text", nil)
	}
	ctxErr := ctx.Err()
	release()

	var (
		result *Result
		err    error
		pair   [2]session.Turn
	)

	c.mu.Lock()
	current := c.inflight == sub
	stale := !current || c.closed || sub.isCancelled() || c.store.Version() != version ||
		(genErr == nil && ctxErr != nil)

	switch {
	case stale:
		err = ErrStaleCompletion
		if genErr != nil {
			err = fmt.Errorf("%w: %w", ErrStaleCompletion, genErr)
		}
	case genErr != nil:
		err = newGenerationError(genErr)
	default:
		consume := ""
		if c.policy == ConsumeAttachment {
			consume = attachmentID
		}
		var commitErr error
		pair, commitErr = c.store.CommitPair(version,
			session.Turn{Role: session.RoleUser, Text: sub.text},
			session.Turn{Role: session.RoleAssistant, Text: resp.Text},
			consume)
		if commitErr != nil {
			err = fmt.Errorf("%w: %w", ErrStaleCompletion, commitErr)
		} else {
			result = &Result{
				User:      pair[0],
				Assistant: pair[1],
				Model:     resp.Model,
				Usage:     resp.Usage,
				Duration:  elapsed,
			}
		}
	}

	final := StateCommitted
	if err != nil {
		final = StateFailed
	}
	if current {
		c.inflight = nil
		c.transition(final)
		c.transition(StateIdle)
	}
	if result != nil {
		c.jmu.Lock()
	}
	c.mu.Unlock()

	logger := log.Debug().
		Str("session_id", c.store.ID()).
		Str("submission_id", sub.id).
		Stringer("state", final).
		Dur("duration", elapsed)
	switch {
	case result != nil:
		metrics.RecordTurn("committed")
		logger.Int("seq", pair[1].Seq).Msg("Turn committed")
		c.appendJournal(pair)
		c.jmu.Unlock()
	case stale:
		metrics.RecordTurn("stale")
		logger.Err(err).Msg("Turn discarded")
	default:
		metrics.RecordTurn("failed")
		logger.Err(err).Msg("Turn failed")
	}

	sub.finish(final, result, err)
}

// appendJournal mirrors a committed pair. Must be called with jmu held.
func (c *Controller) appendJournal(pair [2]session.Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()
	if err := c.journal.AppendPair(ctx, c.store.ID(), pair); err != nil {
		log.Warn().Err(err).Str("session_id", c.store.ID()).Msg("Failed to journal turn")
	}
}

// abandonLocked cancels and detaches the in-flight submission, if any.
func (c *Controller) abandonLocked() {
	sub := c.inflight
	if sub == nil {
		return
	}
	sub.Cancel()
	c.inflight = nil
	c.transition(StateFailed)
	c.transition(StateIdle)
}

// Reset cancels any in-flight call, clears the transcript (keeping the
// primer) and the staged image, and clears the journal. A reply that
// arrives afterwards is discarded. Calling Reset twice leaves the same
// state as calling it once.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.abandonLocked()
	c.store.Reset()
	c.jmu.Lock()
	c.mu.Unlock()
	defer c.jmu.Unlock()

	log.Debug().Str("session_id", c.store.ID()).Msg("Session reset")

	if err := c.journal.Reset(ctx, c.store.ID()); err != nil {
		return fmt.Errorf("reset journal: %w", err)
	}
	return nil
}

// Resume loads the journaled turns for the store's session into the store.
// It reports how many turns were restored; a session with no journal
// entries restores nothing and is not an error.
func (c *Controller) Resume(ctx context.Context) (int, error) {
	turns, err := c.journal.Load(ctx, c.store.ID())
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("load journal: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight != nil {
		return 0, ErrBusy
	}
	c.store.Restore(turns)
	return len(turns), nil
}

// Close tears the session down: in-flight work is cancelled and later
// Start calls fail with ErrClosed. The journal is owned by the caller.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.abandonLocked()
	c.shutdown()
	return nil
}

// SetLanguage changes the answer language for later submissions.
func (c *Controller) SetLanguage(lang string) {
	c.mu.Lock()
	c.lang = lang
	c.mu.Unlock()
}

// Language returns the answer language.
func (c *Controller) Language() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lang
}

// Busy reports whether a submission is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight != nil
}

// Closed reports whether Close has been called.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Policy returns the attachment policy.
func (c *Controller) Policy() AttachmentPolicy {
	return c.policy
}

// Provider returns the generation service name.
func (c *Controller) Provider() string {
	return c.gen.Name()
}

func (c *Controller) transition(to State) {
	if !c.state.next(to) {
		log.Warn().Stringer("from", c.state).Stringer("to", to).Msg("Unexpected turn state transition")
	}
	c.state = to
	if c.hook != nil {
		c.hook(to)
	}
}
