// Package conversation implements the intake state machine: one question per
// turn, finalize into a rendered document, hand off to mail delivery.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zhouzirui/intake-bot/internal/metrics"
	"github.com/zhouzirui/intake-bot/internal/model/form"
	"github.com/zhouzirui/intake-bot/internal/service/delivery"
	"github.com/zhouzirui/intake-bot/internal/service/render"
	"github.com/zhouzirui/intake-bot/internal/service/session"
)

var (
	// ErrSessionActive means /start arrived while a conversation was already
	// in progress. The first session's answers are left untouched.
	ErrSessionActive = errors.New("session already active")

	// ErrNoSession means an answer or /cancel arrived with no conversation
	// in progress.
	ErrNoSession = errors.New("no active session")
)

// Renderer turns a completed answer set into a document artifact.
type Renderer interface {
	Render(set form.AnswerSet, filename string) (render.Document, error)
}

// Dispatcher sends a rendered document to the configured destination.
type Dispatcher interface {
	Deliver(ctx context.Context, doc render.Document, summary string) error
}

// Outcome classifies the result of a Submit call.
type Outcome int

const (
	// OutcomeNext means more questions remain; Result.Prompt carries the
	// next one.
	OutcomeNext Outcome = iota
	// OutcomeCompleted means the document was rendered and delivered.
	OutcomeCompleted
	// OutcomeFailed means finalize failed; the session is discarded and the
	// user gets a generic failure message. Detail goes to the log only.
	OutcomeFailed
)

// Result is the controller's answer to one submitted message.
type Result struct {
	Outcome Outcome
	Prompt  string
}

// Controller advances per-user sessions through the question catalog. All
// calls for one user are serialized on a per-user lock; distinct users never
// contend. Render and delivery run while holding only the submitting user's
// lock, so a slow SMTP server cannot stall other conversations. The lock
// guarantees mutual exclusion, not queue order: callers that need same-user
// arrival order (the Telegram transport does) must submit sequentially.
type Controller struct {
	catalog    form.Catalog
	store      *session.Store
	renderer   Renderer
	dispatcher Dispatcher
	recorder   *metrics.Recorder
	locks      *keyedLocks
}

// New wires the controller with its collaborators.
func New(catalog form.Catalog, store *session.Store, renderer Renderer, dispatcher Dispatcher, recorder *metrics.Recorder) *Controller {
	return &Controller{
		catalog:    catalog,
		store:      store,
		renderer:   renderer,
		dispatcher: dispatcher,
		recorder:   recorder,
		locks:      newKeyedLocks(),
	}
}

// Start begins a conversation and returns the first prompt. A second Start
// without an intervening finalize or Cancel fails with ErrSessionActive and
// leaves the running session untouched.
func (c *Controller) Start(_ context.Context, userID int64) (string, error) {
	l := c.locks.acquire(userID)
	defer c.locks.release(userID, l)

	sess, ok := c.store.Create(userID)
	if !ok {
		return "", ErrSessionActive
	}

	c.recorder.SessionStarted()
	log.Printf("[conversation] session %s started for user %d", sess.ID, userID)
	return c.catalog.At(0).Prompt, nil
}

// Submit records the answer to the current question. Empty or whitespace-only
// text is captured verbatim. Answering the last question finalizes: the
// session is destroyed, the document rendered and delivered, and the outcome
// reported. Finalize failures are converted here into OutcomeFailed; the
// error detail never reaches the caller.
func (c *Controller) Submit(ctx context.Context, userID int64, text string) (Result, error) {
	l := c.locks.acquire(userID)
	defer c.locks.release(userID, l)

	sess, ok := c.store.Get(userID)
	if !ok {
		return Result{}, ErrNoSession
	}

	sess.Record(c.catalog.At(sess.Cursor()), text)
	if sess.Cursor() < c.catalog.Len() {
		return Result{Outcome: OutcomeNext, Prompt: c.catalog.At(sess.Cursor()).Prompt}, nil
	}

	// Terminal: the session is gone whatever finalize does, so a failed
	// delivery cannot leak a stale session into the next conversation.
	c.store.Delete(userID)
	c.recorder.SessionCompleted()
	return c.finalize(ctx, sess), nil
}

// Cancel discards the user's session.
func (c *Controller) Cancel(_ context.Context, userID int64) error {
	l := c.locks.acquire(userID)
	defer c.locks.release(userID, l)

	sess, ok := c.store.Get(userID)
	if !ok {
		return ErrNoSession
	}

	c.store.Delete(userID)
	c.recorder.SessionCancelled()
	log.Printf("[conversation] session %s cancelled by user %d", sess.ID, userID)
	return nil
}

// finalize renders the answer set and hands it to delivery. Exactly one log
// record per failure path.
func (c *Controller) finalize(ctx context.Context, sess *session.Session) Result {
	set := sess.AnswerSet()
	filename := fmt.Sprintf("intake-%d-%s.pdf", sess.UserID, sess.ID)

	doc, err := c.renderer.Render(set, filename)
	if err != nil {
		c.recorder.RenderFailed()
		log.Printf("[conversation] session %s: render failed: %v", sess.ID, err)
		return Result{Outcome: OutcomeFailed}
	}

	start := time.Now()
	err = c.dispatcher.Deliver(ctx, doc, Summary(set))
	c.recorder.ObserveDelivery(deliveryStatus(err), time.Since(start))
	if err != nil {
		log.Printf("[conversation] session %s: delivery failed: %v", sess.ID, err)
		return Result{Outcome: OutcomeFailed}
	}

	log.Printf("[conversation] session %s delivered (%d answers)", sess.ID, len(set))
	return Result{Outcome: OutcomeCompleted}
}

func deliveryStatus(err error) string {
	switch {
	case err == nil:
		return metrics.DeliveryOK
	case errors.Is(err, delivery.ErrDeliveryTimeout):
		return metrics.DeliveryTimeout
	default:
		return metrics.DeliveryError
	}
}

// Summary renders the answer set as a plain-text mail body, one line per
// question in catalog order.
func Summary(set form.AnswerSet) string {
	var b strings.Builder
	for _, entry := range set {
		fmt.Fprintf(&b, "%s %s\n", entry.Question.Prompt, entry.Answer)
	}
	return b.String()
}
