package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturaIA/nfse-chat-service/internal/invoice"
	"github.com/facturaIA/nfse-chat-service/internal/session"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeExtractor struct {
	name  string
	data  invoice.Data
	err   error
	block bool
	calls int
	last  Request
}

func (f *fakeExtractor) Name() string { return f.name }

func (f *fakeExtractor) Extract(ctx context.Context, req Request) (invoice.Data, error) {
	f.calls++
	f.last = req
	if f.block {
		<-ctx.Done()
		return invoice.Data{}, ctx.Err()
	}
	return f.data, f.err
}

type fakeConversational struct {
	reply string
	err   error
}

func (f fakeConversational) Answer(context.Context, string, string, []session.Message) (string, error) {
	return f.reply, f.err
}

type fakeNames struct {
	name  string
	calls int
}

func (f *fakeNames) Lookup(context.Context, string) (string, error) {
	f.calls++
	return f.name, nil
}

type fakeSuggestions struct {
	description string
}

func (f fakeSuggestions) Suggest(context.Context, string, string) (string, bool) {
	return f.description, f.description != ""
}

func newSession() *session.Session {
	return session.New("5511999990000", time.Hour, t0)
}

func newRouter(general Extractor, opts ...Option) *Router {
	opts = append(opts, WithRouterClock(func() time.Time { return t0 }))
	return NewRouter(general, nil, opts...)
}

func TestRouteHappyPathWithRules(t *testing.T) {
	r := newRouter(nil)
	s := newSession()

	out, err := r.Route(context.Background(), s, "CNPJ 11222333000181 valor 1500,00 consultoria")
	require.NoError(t, err)

	assert.Equal(t, KindData, out.Kind)
	assert.Equal(t, "rules", out.Extractor)
	assert.True(t, out.Invoice.IsComplete())
	assert.True(t, s.Invoice.IsComplete())
	assert.Contains(t, out.Reply, "R$ 1.500,00")
	assert.Equal(t, 0, s.ExtractionCallCount)
}

func TestRouteTemplatedKindsSkipExtraction(t *testing.T) {
	ext := &fakeExtractor{name: "general"}
	r := newRouter(ext)

	tests := []struct {
		text   string
		kind   MessageKind
		cancel bool
	}{
		{"oi", KindGreeting, false},
		{"obrigado", KindThanks, false},
		{"cancelar", KindCancellation, true},
	}
	for _, tt := range tests {
		out, err := r.Route(context.Background(), newSession(), tt.text)
		require.NoError(t, err)
		assert.Equal(t, tt.kind, out.Kind)
		assert.Equal(t, tt.cancel, out.Cancel)
		assert.NotEmpty(t, out.Reply)
	}
	assert.Zero(t, ext.calls)
}

func TestRouteQuestion(t *testing.T) {
	s := newSession()

	r := newRouter(nil, WithConversational(fakeConversational{reply: "O ISS é de 2%."}))
	out, err := r.Route(context.Background(), s, "o que é ISS?")
	require.NoError(t, err)
	assert.Equal(t, KindQuestion, out.Kind)
	assert.Equal(t, "O ISS é de 2%.", out.Reply)
	assert.True(t, s.Invoice.IsEmpty())

	r = newRouter(nil, WithConversational(fakeConversational{err: errors.New("boom")}))
	out, err = r.Route(context.Background(), s, "o que é ISS?")
	require.NoError(t, err)
	assert.Equal(t, r.Templates().QuestionFallback(), out.Reply)
}

func TestRouteFallsBackToGeneral(t *testing.T) {
	focused := &fakeExtractor{name: "focused", err: Fail("focused", FailureMalformed, errors.New("not json"))}
	general := &fakeExtractor{name: "general", data: invoice.New("11222333000181", "", "", "")}
	r := newRouter(general, WithFocused(focused))
	s := newSession()

	out, err := r.Route(context.Background(), s, "meu cnpj é 11222333000181")
	require.NoError(t, err)

	assert.False(t, out.Failed)
	assert.Equal(t, "general", out.Extractor)
	assert.Equal(t, invoice.StatusValidated, s.Invoice.TaxID.Status)
	assert.Equal(t, 2, s.ExtractionCallCount)
	assert.Equal(t, 1, focused.calls)
	assert.Equal(t, 1, general.calls)
}

func TestRouteAllExtractorsFail(t *testing.T) {
	focused := &fakeExtractor{name: "focused", block: true}
	general := &fakeExtractor{name: "general", err: errors.New("provider down")}
	r := newRouter(general, WithFocused(focused), WithTimeout(10*time.Millisecond))

	s := newSession()
	s.UpdateInvoice(invoice.New("11222333000181", "", "", ""), t0)
	before := s.Invoice

	out, err := r.Route(context.Background(), s, "valor 1500")
	require.NoError(t, err)

	assert.True(t, out.Failed)
	assert.Equal(t, r.Templates().ExtractionApology(), out.Reply)
	assert.Equal(t, before, s.Invoice)
	assert.Equal(t, 2, s.ExtractionCallCount)
}

func TestRouteHybridDisabled(t *testing.T) {
	ext := &fakeExtractor{name: "general", data: invoice.Empty()}
	r := newRouter(ext, WithHybrid(false))

	out, err := r.Route(context.Background(), newSession(), "oi")
	require.NoError(t, err)
	assert.Equal(t, KindData, out.Kind)
	assert.Equal(t, 1, ext.calls)

	out, err = r.Route(context.Background(), newSession(), "cancelar")
	require.NoError(t, err)
	assert.True(t, out.Cancel)
	assert.Equal(t, 1, ext.calls)
}

func TestRouteLooksUpNameOnce(t *testing.T) {
	names := &fakeNames{name: "EMPRESA EXEMPLO LTDA"}
	r := newRouter(nil, WithNameLookup(names))
	s := newSession()

	_, err := r.Route(context.Background(), s, "CNPJ 11222333000181")
	require.NoError(t, err)
	assert.Equal(t, "EMPRESA EXEMPLO LTDA", s.Invoice.TaxID.DisplayName)

	_, err = r.Route(context.Background(), s, "valor 1500,00")
	require.NoError(t, err)
	assert.Equal(t, "EMPRESA EXEMPLO LTDA", s.Invoice.TaxID.DisplayName)
	assert.Equal(t, 1, names.calls)
}

func TestRouteSuggestionAccepted(t *testing.T) {
	r := newRouter(nil, WithSuggestions(fakeSuggestions{description: "consultoria mensal em TI"}))
	s := newSession()

	out, err := r.Route(context.Background(), s, "CNPJ 11222333000181 valor 1500,00")
	require.NoError(t, err)
	assert.True(t, out.Suggested)
	assert.Contains(t, out.Reply, "consultoria mensal em TI")
	assert.Equal(t, invoice.StatusWarning, s.Invoice.Description.Status)
	require.True(t, s.PendingSuggestion.Pending())

	out, err = r.Route(context.Background(), s, "sim")
	require.NoError(t, err)
	assert.True(t, out.Invoice.IsComplete())
	assert.Equal(t, "consultoria mensal em TI", s.Invoice.Description.Text)
	assert.Nil(t, s.PendingSuggestion)
	assert.Contains(t, out.Reply, "R$ 1.500,00")
}

func TestRouteSuggestionDeclined(t *testing.T) {
	r := newRouter(nil, WithSuggestions(fakeSuggestions{description: "consultoria mensal em TI"}))
	s := newSession()

	_, err := r.Route(context.Background(), s, "CNPJ 11222333000181 valor 1500,00")
	require.NoError(t, err)

	out, err := r.Route(context.Background(), s, "não")
	require.NoError(t, err)
	assert.False(t, out.Suggested)
	assert.Equal(t, invoice.StatusAbsent, s.Invoice.Description.Status)
	require.NotNil(t, s.PendingSuggestion)
	assert.True(t, s.PendingSuggestion.Declined)

	// not offered again for the same customer
	out, err = r.Route(context.Background(), s, "valor 1600,00")
	require.NoError(t, err)
	assert.False(t, out.Suggested)
	assert.Equal(t, invoice.StatusAbsent, s.Invoice.Description.Status)

	out, err = r.Route(context.Background(), s, "desenvolvimento de software")
	require.NoError(t, err)
	assert.True(t, out.Invoice.IsComplete())
}

func TestRouteSuggestionReplacedByNewDescription(t *testing.T) {
	r := newRouter(nil, WithSuggestions(fakeSuggestions{description: "consultoria mensal em TI"}))
	s := newSession()

	_, err := r.Route(context.Background(), s, "CNPJ 11222333000181 valor 1500,00")
	require.NoError(t, err)

	out, err := r.Route(context.Background(), s, "desenvolvimento de software")
	require.NoError(t, err)
	assert.True(t, out.Invoice.IsComplete())
	assert.Equal(t, "desenvolvimento de software", s.Invoice.Description.Text)
}

func TestRouteSendsCurrentMessageOnlyOnce(t *testing.T) {
	ext := &fakeExtractor{name: "general", data: invoice.Empty()}
	r := newRouter(ext)
	s := newSession()

	s.AddUserMessage("CNPJ 11222333000181", t0)
	s.AddAssistantMessage("Qual o valor?", t0)
	s.AddUserMessage("valor 1500", t0)

	_, err := r.Route(context.Background(), s, "valor 1500")
	require.NoError(t, err)

	assert.Equal(t, "valor 1500", ext.last.Message)
	require.Len(t, ext.last.History, 2)
	assert.Equal(t, "CNPJ 11222333000181", ext.last.History[0].Text)
	assert.Equal(t, "Qual o valor?", ext.last.History[1].Text)
}

func TestAsFailure(t *testing.T) {
	f := AsFailure("openai", context.DeadlineExceeded)
	assert.Equal(t, FailureTimeout, f.Kind)
	assert.ErrorIs(t, f, ErrExtraction)
	assert.ErrorIs(t, f, context.DeadlineExceeded)

	wrapped := Fail("gemini", FailureRefusal, nil)
	assert.Same(t, wrapped, AsFailure("other", wrapped))
	assert.Nil(t, AsFailure("x", nil))
}
