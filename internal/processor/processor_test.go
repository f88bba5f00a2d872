package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturaIA/nfse-chat-service/internal/conversation"
	"github.com/facturaIA/nfse-chat-service/internal/events"
	"github.com/facturaIA/nfse-chat-service/internal/extraction"
	"github.com/facturaIA/nfse-chat-service/internal/history"
	"github.com/facturaIA/nfse-chat-service/internal/invoice"
	"github.com/facturaIA/nfse-chat-service/internal/issuance"
	"github.com/facturaIA/nfse-chat-service/internal/session"
)

const phone = "5511999990000"

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type snapshotLog struct {
	mu      sync.Mutex
	reasons []session.Reason
	states  []conversation.State
	err     error
}

func (s *snapshotLog) WriteSnapshot(_ context.Context, sess *session.Session, reason session.Reason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.reasons = append(s.reasons, reason)
	s.states = append(s.states, sess.State)
	return nil
}

type fakeIssuer struct {
	calls int
	err   error
	// stateAtCall is the stored state seen when Issue runs
	stateAtCall conversation.State
}

func (f *fakeIssuer) Issue(_ context.Context, s *session.Session) (*issuance.Result, error) {
	f.calls++
	f.stateAtCall = s.State
	if f.err != nil {
		return nil, f.err
	}
	return &issuance.Result{DocumentNumber: "000123", Protocol: "123456789012345", PDFURL: "https://example.test/123.pdf"}, nil
}

type recordingPublisher struct {
	types []string
}

func (r *recordingPublisher) Publish(_ context.Context, eventType string, _ interface{}) error {
	r.types = append(r.types, eventType)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

type failingExtractor struct{}

func (failingExtractor) Name() string { return "broken" }

func (failingExtractor) Extract(context.Context, extraction.Request) (invoice.Data, error) {
	return invoice.Data{}, extraction.Fail("broken", extraction.FailureMalformed, errors.New("bad json"))
}

type panickingExtractor struct{}

func (panickingExtractor) Name() string { return "panics" }

func (panickingExtractor) Extract(context.Context, extraction.Request) (invoice.Data, error) {
	panic("boom")
}

type harness struct {
	proc      *Processor
	store     *session.Store
	clock     *clock
	snapshots *snapshotLog
	issuer    *fakeIssuer
	events    *recordingPublisher
}

func newHarness(t *testing.T, general extraction.Extractor, opts ...extraction.Option) *harness {
	t.Helper()
	c := &clock{now: t0}
	snaps := &snapshotLog{}
	store := session.NewStore(session.NewMemoryBackend(), time.Hour,
		session.WithClock(c.Now), session.WithSnapshots(snaps))

	opts = append(opts, extraction.WithRouterClock(c.Now))
	router := extraction.NewRouter(general, nil, opts...)

	issuer := &fakeIssuer{}
	pub := &recordingPublisher{}
	proc := New(store, router, issuer, WithPublisher(pub), WithLogger(zerolog.Nop()))

	return &harness{proc: proc, store: store, clock: c, snapshots: snaps, issuer: issuer, events: pub}
}

func (h *harness) send(t *testing.T, text string) string {
	t.Helper()
	return h.proc.Process(context.Background(), phone, text)
}

func (h *harness) active(t *testing.T) *session.Session {
	t.Helper()
	s, err := h.store.GetActive(context.Background(), phone)
	require.NoError(t, err)
	return s
}

func TestHappyPath(t *testing.T) {
	h := newHarness(t, nil)

	reply := h.send(t, "CNPJ 11222333000181 valor 1500,00 consultoria")
	assert.Contains(t, reply, "ESPELHO DA NOTA FISCAL")

	s := h.active(t)
	assert.Equal(t, conversation.AwaitingConfirmation, s.State)
	assert.True(t, s.Invoice.IsComplete())
	assert.Equal(t, "R$ 1.500,00", s.Invoice.Amount.Formatted)
	assert.Equal(t, 1, s.InteractionCount)
	assert.Equal(t, 1, s.AssistantMessageCount)
	assert.Equal(t, []session.Reason{session.ReasonDataComplete}, h.snapshots.reasons)
}

func TestInvalidTaxIDWithValidFields(t *testing.T) {
	h := newHarness(t, nil)

	reply := h.send(t, "CNPJ 11222333000182 valor 1500,00 serviço de consultoria")
	assert.Contains(t, reply, "dígitos incorretos")

	s := h.active(t)
	assert.Equal(t, conversation.Incomplete, s.State)
	assert.Equal(t, invoice.StatusError, s.Invoice.TaxID.Status)
	assert.Equal(t, invoice.StatusValidated, s.Invoice.Amount.Status)
	assert.Equal(t, invoice.StatusValidated, s.Invoice.Description.Status)
	assert.False(t, s.Invoice.IsComplete())
	assert.NotEmpty(t, s.Invoice.InvalidFields())
}

func TestIncrementalCollection(t *testing.T) {
	h := newHarness(t, nil)

	steps := []struct {
		text     string
		state    conversation.State
		complete bool
	}{
		{"CNPJ 11222333000181", conversation.Incomplete, false},
		{"valor 1500,00", conversation.Incomplete, false},
		{"consultoria em TI", conversation.AwaitingConfirmation, true},
	}
	for _, step := range steps {
		h.send(t, step.text)
		s := h.active(t)
		assert.Equal(t, step.state, s.State, step.text)
		assert.Equal(t, step.complete, s.Invoice.IsComplete(), step.text)
	}
}

func TestConfirmationYes(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, "CNPJ 11222333000181 valor 1500,00 consultoria")

	reply := h.send(t, "Sim")
	assert.Contains(t, reply, "000123")
	assert.Equal(t, 1, h.issuer.calls)
	assert.Equal(t, conversation.Processing, h.issuer.stateAtCall)

	// confirmed snapshot is written before issuance, then the approval
	assert.Equal(t, []session.Reason{session.ReasonDataComplete, session.ReasonConfirmed, session.ReasonConfirmed}, h.snapshots.reasons)
	assert.Equal(t, []conversation.State{conversation.AwaitingConfirmation, conversation.Processing, conversation.Approved}, h.snapshots.states)
	assert.Equal(t, []string{events.SessionConfirmed, events.InvoiceIssued}, h.events.types)

	_, err := h.store.GetActive(context.Background(), phone)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestConfirmationNo(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, "CNPJ 11222333000181 valor 1500,00 consultoria")

	reply := h.send(t, "não")
	assert.Equal(t, h.proc.templates.Cancelled(), reply)
	assert.Zero(t, h.issuer.calls)
	assert.Equal(t, conversation.CancelledByUser, h.snapshots.states[len(h.snapshots.states)-1])
	assert.Equal(t, session.ReasonCancelled, h.snapshots.reasons[len(h.snapshots.reasons)-1])
	assert.Equal(t, []string{events.SessionCancelled}, h.events.types)
}

func TestConfirmationUnrecognized(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, "CNPJ 11222333000181 valor 1500,00 consultoria")

	reply := h.send(t, "talvez")
	assert.Contains(t, reply, "Não entendi sua resposta")
	assert.Contains(t, reply, "ESPELHO DA NOTA FISCAL")

	s := h.active(t)
	assert.Equal(t, conversation.AwaitingConfirmation, s.State)
	assert.Equal(t, 2, s.InteractionCount)
	assert.Zero(t, h.issuer.calls)
}

func TestIssuanceFailureKeepsProcessing(t *testing.T) {
	h := newHarness(t, nil)
	h.issuer.err = errors.New("gateway timeout")
	h.send(t, "CNPJ 11222333000181 valor 1500,00 consultoria")

	reply := h.send(t, "sim")
	assert.Equal(t, h.proc.templates.IssuanceFailed(), reply)
	assert.Equal(t, 1, h.issuer.calls)

	last := len(h.snapshots.states) - 1
	assert.Equal(t, conversation.Processing, h.snapshots.states[last])
	assert.Equal(t, session.ReasonError, h.snapshots.reasons[last])
	assert.Equal(t, []string{events.SessionConfirmed, events.InvoiceFailed}, h.events.types)

	// the next message starts over instead of reopening the failed session
	h.send(t, "oi")
	s := h.active(t)
	assert.Equal(t, conversation.Collecting, s.State)
	assert.True(t, s.Invoice.IsEmpty())
}

func TestExpiredSessionStartsOver(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, "CNPJ 11222333000181")
	first := h.active(t)

	h.clock.Advance(2 * time.Hour)
	h.send(t, "valor 1500,00")

	s := h.active(t)
	assert.NotEqual(t, first.ID, s.ID)
	assert.Equal(t, invoice.StatusAbsent, s.Invoice.TaxID.Status)
	assert.Equal(t, invoice.StatusValidated, s.Invoice.Amount.Status)
	assert.Contains(t, h.snapshots.reasons, session.ReasonExpired)
}

func TestGreetingAndCancellation(t *testing.T) {
	h := newHarness(t, nil)

	reply := h.send(t, "oi")
	assert.NotEmpty(t, reply)
	assert.Equal(t, conversation.Collecting, h.active(t).State)

	// nothing collected yet, so the session is simply dropped
	h.send(t, "cancelar")
	_, err := h.store.GetActive(context.Background(), phone)
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.Empty(t, h.snapshots.reasons)

	h.send(t, "CNPJ 11222333000181")
	h.send(t, "cancelar")
	_, err = h.store.GetActive(context.Background(), phone)
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.Equal(t, []session.Reason{session.ReasonCancelled}, h.snapshots.reasons)
}

func TestExtractionFailureKeepsData(t *testing.T) {
	h := newHarness(t, failingExtractor{})

	reply := h.send(t, "CNPJ 11222333000181")
	assert.Equal(t, h.proc.templates.ExtractionApology(), reply)

	s := h.active(t)
	assert.Equal(t, conversation.Collecting, s.State)
	assert.True(t, s.Invoice.IsEmpty())
	assert.Equal(t, 1, s.ExtractionCallCount)
}

func TestPersistenceFailureRepliesAndKeepsSession(t *testing.T) {
	h := newHarness(t, nil)
	h.send(t, "CNPJ 11222333000181 valor 1500,00")

	h.snapshots.err = errors.New("db down")
	reply := h.send(t, "consultoria em TI")
	assert.Equal(t, h.proc.templates.GenericRetry(), reply)

	s := h.active(t)
	assert.Equal(t, conversation.Incomplete, s.State)
	assert.Equal(t, 1, s.InteractionCount)
}

func TestPanicIsAnswered(t *testing.T) {
	h := newHarness(t, panickingExtractor{})

	reply := h.send(t, "CNPJ 11222333000181")
	assert.Equal(t, h.proc.templates.GenericRetry(), reply)

	_, err := h.store.GetActive(context.Background(), phone)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestHistorySuggestionFlow(t *testing.T) {
	mem := history.NewMemory()
	mem.Record(phone, "11222333000181", "consultoria mensal em TI")

	h := newHarness(t, nil, extraction.WithSuggestions(history.NewAdvisor(mem, zerolog.Nop())))

	reply := h.send(t, "CNPJ 11222333000181 valor 1500,00")
	assert.Contains(t, reply, "consultoria mensal em TI")
	assert.Equal(t, conversation.Incomplete, h.active(t).State)

	reply = h.send(t, "sim")
	assert.Contains(t, reply, "ESPELHO DA NOTA FISCAL")

	s := h.active(t)
	assert.Equal(t, conversation.AwaitingConfirmation, s.State)
	assert.Equal(t, "consultoria mensal em TI", s.Invoice.Description.Text)
	assert.Zero(t, h.issuer.calls)
}

func TestConcurrentMessagesForOnePhone(t *testing.T) {
	h := newHarness(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.send(t, "oi")
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, h.active(t).InteractionCount)
}
