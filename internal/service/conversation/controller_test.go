package conversation_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/zhouzirui/intake-bot/internal/metrics"
	"github.com/zhouzirui/intake-bot/internal/model/form"
	"github.com/zhouzirui/intake-bot/internal/service/conversation"
	"github.com/zhouzirui/intake-bot/internal/service/delivery"
	"github.com/zhouzirui/intake-bot/internal/service/render"
	"github.com/zhouzirui/intake-bot/internal/service/session"
)

type fakeRenderer struct {
	mu   sync.Mutex
	sets []form.AnswerSet
	err  error
}

func (f *fakeRenderer) Render(set form.AnswerSet, filename string) (render.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return render.Document{}, f.err
	}
	f.sets = append(f.sets, set)
	return render.Document{Filename: filename, Data: []byte("%PDF-fake")}, nil
}

type fakeDispatcher struct {
	mu        sync.Mutex
	err       error
	docs      []render.Document
	summaries []string
}

func (f *fakeDispatcher) Deliver(_ context.Context, doc render.Document, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.docs = append(f.docs, doc)
	f.summaries = append(f.summaries, summary)
	return nil
}

func newController(t *testing.T, questions []form.Question, renderer *fakeRenderer, dispatcher *fakeDispatcher) (*conversation.Controller, *session.Store) {
	t.Helper()
	catalog, err := form.NewCatalog(questions)
	if err != nil {
		t.Fatalf("NewCatalog err: %v", err)
	}
	store := session.NewStore()
	recorder := metrics.NewRecorder(prometheus.NewRegistry())
	return conversation.New(catalog, store, renderer, dispatcher, recorder), store
}

func twoQuestions() []form.Question {
	return []form.Question{
		{ID: "company", Prompt: "Company:"},
		{ID: "phone", Prompt: "Phone:"},
	}
}

func TestFullFlowDeliversAnswersInOrder(t *testing.T) {
	renderer := &fakeRenderer{}
	dispatcher := &fakeDispatcher{}
	ctrl, store := newController(t, twoQuestions(), renderer, dispatcher)
	ctx := context.Background()

	prompt, err := ctrl.Start(ctx, 1)
	if err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if prompt != "Company:" {
		t.Fatalf("first prompt: got %q", prompt)
	}

	result, err := ctrl.Submit(ctx, 1, "Acme")
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	if result.Outcome != conversation.OutcomeNext || result.Prompt != "Phone:" {
		t.Fatalf("unexpected result after first answer: %+v", result)
	}

	result, err = ctrl.Submit(ctx, 1, "555-0100")
	if err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	if result.Outcome != conversation.OutcomeCompleted {
		t.Fatalf("expected completion, got %+v", result)
	}

	if len(renderer.sets) != 1 {
		t.Fatalf("render calls: got %d want 1", len(renderer.sets))
	}
	set := renderer.sets[0]
	if len(set) != 2 {
		t.Fatalf("answer set length: got %d", len(set))
	}
	if set[0].Question.ID != "company" || set[0].Answer != "Acme" {
		t.Fatalf("first entry: %+v", set[0])
	}
	if set[1].Question.ID != "phone" || set[1].Answer != "555-0100" {
		t.Fatalf("second entry: %+v", set[1])
	}

	if len(dispatcher.docs) != 1 {
		t.Fatalf("deliveries: got %d want 1", len(dispatcher.docs))
	}
	if !strings.HasSuffix(dispatcher.docs[0].Filename, ".pdf") {
		t.Fatalf("artifact filename: %q", dispatcher.docs[0].Filename)
	}
	if !strings.Contains(dispatcher.summaries[0], "Acme") || !strings.Contains(dispatcher.summaries[0], "555-0100") {
		t.Fatalf("summary missing answers: %q", dispatcher.summaries[0])
	}

	if _, ok := store.Get(1); ok {
		t.Fatal("session survived completion")
	}
}

func TestAnswersCapturedVerbatim(t *testing.T) {
	renderer := &fakeRenderer{}
	ctrl, _ := newController(t, twoQuestions(), renderer, &fakeDispatcher{})
	ctx := context.Background()

	if _, err := ctrl.Start(ctx, 1); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	// Whitespace-only answers are accepted as-is, no trimming.
	if _, err := ctrl.Submit(ctx, 1, "   "); err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	if _, err := ctrl.Submit(ctx, 1, ""); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	set := renderer.sets[0]
	if set[0].Answer != "   " || set[1].Answer != "" {
		t.Fatalf("answers mutated: %+v", set)
	}
}

func TestStartTwiceKeepsFirstSession(t *testing.T) {
	renderer := &fakeRenderer{}
	ctrl, store := newController(t, twoQuestions(), renderer, &fakeDispatcher{})
	ctx := context.Background()

	if _, err := ctrl.Start(ctx, 1); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if _, err := ctrl.Submit(ctx, 1, "Acme"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	if _, err := ctrl.Start(ctx, 1); !errors.Is(err, conversation.ErrSessionActive) {
		t.Fatalf("second Start err: %v", err)
	}

	sess, ok := store.Get(1)
	if !ok {
		t.Fatal("first session gone after rejected restart")
	}
	if sess.Cursor() != 1 || sess.AnswerSet()[0].Answer != "Acme" {
		t.Fatal("first session's answers changed")
	}
}

func TestSubmitWithoutSession(t *testing.T) {
	ctrl, store := newController(t, twoQuestions(), &fakeRenderer{}, &fakeDispatcher{})

	if _, err := ctrl.Submit(context.Background(), 1, "Acme"); !errors.Is(err, conversation.ErrNoSession) {
		t.Fatalf("Submit err: %v", err)
	}
	if store.Active() != 0 {
		t.Fatal("store mutated by rejected submit")
	}
}

func TestCancelWithoutSession(t *testing.T) {
	ctrl, store := newController(t, twoQuestions(), &fakeRenderer{}, &fakeDispatcher{})

	if err := ctrl.Cancel(context.Background(), 1); !errors.Is(err, conversation.ErrNoSession) {
		t.Fatalf("Cancel err: %v", err)
	}
	if store.Active() != 0 {
		t.Fatal("store mutated by rejected cancel")
	}
}

func TestCancelMidSequence(t *testing.T) {
	ctrl, store := newController(t, twoQuestions(), &fakeRenderer{}, &fakeDispatcher{})
	ctx := context.Background()

	if _, err := ctrl.Start(ctx, 1); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if _, err := ctrl.Submit(ctx, 1, "Acme"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	if err := ctrl.Cancel(ctx, 1); err != nil {
		t.Fatalf("Cancel err: %v", err)
	}

	if _, ok := store.Get(1); ok {
		t.Fatal("session survived cancel")
	}
	if _, err := ctrl.Submit(ctx, 1, "555-0100"); !errors.Is(err, conversation.ErrNoSession) {
		t.Fatalf("Submit after cancel err: %v", err)
	}
}

func TestDeliveryFailureClearsSession(t *testing.T) {
	dispatcher := &fakeDispatcher{err: delivery.ErrDelivery}
	ctrl, store := newController(t, twoQuestions(), &fakeRenderer{}, dispatcher)
	ctx := context.Background()

	if _, err := ctrl.Start(ctx, 1); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if _, err := ctrl.Submit(ctx, 1, "Acme"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	result, err := ctrl.Submit(ctx, 1, "555-0100")
	if err != nil {
		t.Fatalf("final Submit err: %v", err)
	}
	if result.Outcome != conversation.OutcomeFailed {
		t.Fatalf("expected failure outcome, got %+v", result)
	}

	if _, ok := store.Get(1); ok {
		t.Fatal("session survived failed delivery")
	}

	// A fresh start begins at question 0.
	prompt, err := ctrl.Start(ctx, 1)
	if err != nil {
		t.Fatalf("restart err: %v", err)
	}
	if prompt != "Company:" {
		t.Fatalf("restart prompt: got %q", prompt)
	}
}

func TestDeliveryTimeoutRecordedDistinctly(t *testing.T) {
	catalog, err := form.NewCatalog(twoQuestions())
	if err != nil {
		t.Fatalf("NewCatalog err: %v", err)
	}
	reg := prometheus.NewRegistry()
	dispatcher := &fakeDispatcher{err: fmt.Errorf("%w: deadline exceeded", delivery.ErrDeliveryTimeout)}
	ctrl := conversation.New(catalog, session.NewStore(), &fakeRenderer{}, dispatcher,
		metrics.NewRecorder(reg))
	ctx := context.Background()

	if _, err := ctrl.Start(ctx, 1); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if _, err := ctrl.Submit(ctx, 1, "Acme"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	result, err := ctrl.Submit(ctx, 1, "555-0100")
	if err != nil {
		t.Fatalf("final Submit err: %v", err)
	}
	if result.Outcome != conversation.OutcomeFailed {
		t.Fatalf("expected failure outcome, got %+v", result)
	}

	// A timed-out send must count under "timeout", not generic "error".
	expected := `
# HELP intake_deliveries_total Total number of delivery attempts by status
# TYPE intake_deliveries_total counter
intake_deliveries_total{status="timeout"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "intake_deliveries_total"); err != nil {
		t.Fatalf("delivery metric mismatch: %v", err)
	}
}

func TestRenderFailureClearsSession(t *testing.T) {
	renderer := &fakeRenderer{err: errors.New("pdf backend exploded")}
	dispatcher := &fakeDispatcher{}
	ctrl, store := newController(t, twoQuestions(), renderer, dispatcher)
	ctx := context.Background()

	if _, err := ctrl.Start(ctx, 1); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	if _, err := ctrl.Submit(ctx, 1, "Acme"); err != nil {
		t.Fatalf("Submit err: %v", err)
	}
	result, err := ctrl.Submit(ctx, 1, "555-0100")
	if err != nil {
		t.Fatalf("final Submit err: %v", err)
	}
	if result.Outcome != conversation.OutcomeFailed {
		t.Fatalf("expected failure outcome, got %+v", result)
	}
	if len(dispatcher.docs) != 0 {
		t.Fatal("delivery attempted after render failure")
	}
	if _, ok := store.Get(1); ok {
		t.Fatal("session survived render failure")
	}
}

func TestIndependentUsers(t *testing.T) {
	renderer := &fakeRenderer{}
	ctrl, _ := newController(t, twoQuestions(), renderer, &fakeDispatcher{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for userID := int64(1); userID <= 20; userID++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if _, err := ctrl.Start(ctx, id); err != nil {
				t.Errorf("user %d Start err: %v", id, err)
				return
			}
			if _, err := ctrl.Submit(ctx, id, "Acme"); err != nil {
				t.Errorf("user %d Submit err: %v", id, err)
				return
			}
			if _, err := ctrl.Submit(ctx, id, "555-0100"); err != nil {
				t.Errorf("user %d Submit err: %v", id, err)
			}
		}(userID)
	}
	wg.Wait()

	if len(renderer.sets) != 20 {
		t.Fatalf("render calls: got %d want 20", len(renderer.sets))
	}
}

func TestSummaryOrder(t *testing.T) {
	set := form.AnswerSet{
		{Question: form.Question{ID: "company", Prompt: "Company:"}, Answer: "Acme"},
		{Question: form.Question{ID: "phone", Prompt: "Phone:"}, Answer: "555-0100"},
	}

	summary := conversation.Summary(set)
	companyIdx := strings.Index(summary, "Company: Acme")
	phoneIdx := strings.Index(summary, "Phone: 555-0100")
	if companyIdx < 0 || phoneIdx < 0 || companyIdx > phoneIdx {
		t.Fatalf("summary out of order: %q", summary)
	}
}
