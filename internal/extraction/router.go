package extraction

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/facturaIA/nfse-chat-service/internal/invoice"
	"github.com/facturaIA/nfse-chat-service/internal/response"
	"github.com/facturaIA/nfse-chat-service/internal/session"
)

const (
	DefaultTimeout = 15 * time.Second
	historyWindow  = 6
)

// NameLookup resolves the legal name of a validated CNPJ
type NameLookup interface {
	Lookup(ctx context.Context, cnpj string) (string, error)
}

// SuggestionSource offers a description used before for the same customer
type SuggestionSource interface {
	Suggest(ctx context.Context, phone, taxID string) (string, bool)
}

// Outcome is the result of routing one message
type Outcome struct {
	Kind  MessageKind
	Reply string
	// Invoice is the session's invoice data after this message
	Invoice invoice.Data
	// Extractor names the extractor whose data was merged
	Extractor string

	Cancel    bool
	Failed    bool
	Suggested bool
}

// Router decides per message whether a model call is needed and merges
// whatever the extractors find into the session.
type Router struct {
	classifier     Classifier
	focused        Extractor
	general        Extractor
	conversational Conversational
	composer       response.Composer
	templates      *response.Templates
	names          NameLookup
	suggestions    SuggestionSource
	timeout        time.Duration
	hybrid         bool
	now            func() time.Time
	log            zerolog.Logger
}

// Option configures a Router
type Option func(*Router)

// WithFocused puts a focused extractor in front of the general one
func WithFocused(e Extractor) Option {
	return func(r *Router) { r.focused = e }
}

// WithConversational answers questions; without it they get a fixed reply
func WithConversational(c Conversational) Option {
	return func(r *Router) { r.conversational = c }
}

// WithTemplates overrides the reply templates
func WithTemplates(t *response.Templates) Option {
	return func(r *Router) { r.templates = t }
}

// WithNameLookup enables registry lookups for validated CNPJs
func WithNameLookup(l NameLookup) Option {
	return func(r *Router) { r.names = l }
}

// WithSuggestions enables description suggestions from history
func WithSuggestions(s SuggestionSource) Option {
	return func(r *Router) { r.suggestions = s }
}

// WithTimeout bounds every outbound call
func WithTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithHybrid toggles rule classification. When off every message except a
// cancellation goes to extraction.
func WithHybrid(enabled bool) Option {
	return func(r *Router) { r.hybrid = enabled }
}

// WithRouterClock overrides time.Now
func WithRouterClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithRouterLogger sets the logger
func WithRouterLogger(l zerolog.Logger) Option {
	return func(r *Router) { r.log = l }
}

// NewRouter creates a router. A nil general extractor falls back to the
// rule extractor, a nil composer to the template composer.
func NewRouter(general Extractor, composer response.Composer, opts ...Option) *Router {
	r := &Router{
		general:  general,
		composer: composer,
		timeout:  DefaultTimeout,
		hybrid:   true,
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.general == nil {
		r.general = NewRuleExtractor()
	}
	if r.templates == nil {
		r.templates = response.NewTemplates()
	}
	if r.composer == nil {
		r.composer = response.NewTemplateComposer(r.templates)
	}
	return r
}

// Templates exposes the templates the router replies with
func (r *Router) Templates() *response.Templates { return r.templates }

// Route handles one inbound message. It updates the session's invoice data,
// counters and suggestion, but never its state.
func (r *Router) Route(ctx context.Context, s *session.Session, text string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	if s.PendingSuggestion.Pending() && s.Invoice.Description.Status == invoice.StatusWarning {
		if out, done := r.answerSuggestion(ctx, s, text); done {
			return out, nil
		}
	}

	kind := r.classifier.Classify(text)
	if !r.hybrid && kind != KindCancellation {
		kind = KindData
	}

	log := r.log.With().Str("session_id", s.ID).Str("kind", string(kind)).Logger()
	log.Debug().Msg("message classified")

	out := Outcome{Kind: kind, Invoice: s.Invoice}
	switch kind {
	case KindGreeting:
		out.Reply = r.templates.Greeting(s.Invoice)
	case KindThanks:
		out.Reply = r.templates.Thanks()
	case KindCancellation:
		out.Cancel = true
		out.Reply = r.templates.Cancelled()
	case KindQuestion:
		out.Reply = r.answer(ctx, s, text)
	default:
		return r.extract(ctx, s, text), nil
	}
	return out, nil
}

// answerSuggestion handles the reply to a pending description suggestion.
// done is false when the message should be routed normally.
func (r *Router) answerSuggestion(ctx context.Context, s *session.Session, text string) (Outcome, bool) {
	now := r.now()
	suggested := s.PendingSuggestion.Description

	if IsAffirmative(text) {
		data := s.Invoice.WithDescription(invoice.ValidateDescription(suggested))
		s.ClearSuggestion()
		s.UpdateInvoice(data, now)
		r.log.Info().Str("session_id", s.ID).Msg("history suggestion accepted")
		return Outcome{Kind: KindData, Invoice: data, Reply: r.replyFor(ctx, data)}, true
	}

	s.DeclineSuggestion()
	data := s.Invoice.WithDescription(invoice.DescriptionField{Status: invoice.StatusAbsent})
	s.UpdateInvoice(data, now)

	if IsNegative(text) {
		return Outcome{Kind: KindData, Invoice: data, Reply: r.composer.Incomplete(ctx, data)}, true
	}
	return Outcome{}, false
}

func (r *Router) answer(ctx context.Context, s *session.Session, question string) string {
	if r.conversational == nil {
		return r.templates.QuestionFallback()
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	reply, err := r.conversational.Answer(callCtx, question, s.Invoice.Context(), priorHistory(s, question))
	if err != nil || reply == "" {
		r.log.Warn().Err(err).Str("session_id", s.ID).Msg("conversational answer failed")
		return r.templates.QuestionFallback()
	}
	return reply
}

func (r *Router) extract(ctx context.Context, s *session.Session, text string) Outcome {
	req := Request{
		Message: text,
		Context: s.Invoice.Context(),
		History: priorHistory(s, text),
	}

	var (
		data    invoice.Data
		usedBy  string
		success bool
	)
	for _, ext := range r.chain() {
		if _, local := ext.(*RuleExtractor); !local {
			s.IncrementExtractionCalls()
		}

		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		got, err := ext.Extract(callCtx, req)
		cancel()

		if err != nil {
			f := AsFailure(ext.Name(), err)
			r.log.Warn().
				Err(f).
				Str("session_id", s.ID).
				Str("extractor", ext.Name()).
				Str("failure", string(f.Kind)).
				Msg("extraction failed")
			continue
		}
		data, usedBy, success = got, ext.Name(), true
		break
	}

	if !success {
		return Outcome{
			Kind:    KindData,
			Failed:  true,
			Invoice: s.Invoice,
			Reply:   r.templates.ExtractionApology(),
		}
	}

	previous := s.Invoice
	merged := invoice.Merge(previous, data)
	merged = r.withName(ctx, previous, merged)
	s.UpdateInvoice(merged, r.now())

	out := Outcome{Kind: KindData, Invoice: merged, Extractor: usedBy}

	if desc, ok := r.suggestion(ctx, s, merged); ok {
		merged = merged.WithDescription(invoice.SuggestDescription(desc))
		s.SetSuggestion(merged.TaxID.Normalized, desc)
		s.UpdateInvoice(merged, r.now())

		out.Invoice = merged
		out.Suggested = true
		out.Reply = r.templates.SuggestionPrompt(merged, desc)
		return out
	}

	out.Reply = r.replyFor(ctx, merged)
	return out
}

// priorHistory is the recent transcript without the message being routed,
// which callers already appended and which goes to the model separately
func priorHistory(s *session.Session, text string) []session.Message {
	h := s.RecentHistory(historyWindow + 1)
	if n := len(h); n > 0 && h[n-1].Role == session.RoleUser && h[n-1].Text == text {
		h = h[:n-1]
	}
	if len(h) > historyWindow {
		h = h[len(h)-historyWindow:]
	}
	return h
}

func (r *Router) chain() []Extractor {
	if r.focused == nil {
		return []Extractor{r.general}
	}
	return []Extractor{r.focused, r.general}
}

func (r *Router) replyFor(ctx context.Context, data invoice.Data) string {
	if data.IsComplete() {
		return r.templates.Mirror(data)
	}
	return r.composer.Incomplete(ctx, data)
}

// withName fills the registry name of a newly validated CNPJ
func (r *Router) withName(ctx context.Context, previous, merged invoice.Data) invoice.Data {
	if merged.TaxID.Status != invoice.StatusValidated || merged.TaxID.DisplayName != "" {
		return merged
	}
	if previous.TaxID.Normalized == merged.TaxID.Normalized && previous.TaxID.DisplayName != "" {
		return merged.WithTaxIDName(previous.TaxID.DisplayName)
	}
	if r.names == nil {
		return merged
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	name, err := r.names.Lookup(callCtx, merged.TaxID.Normalized)
	if err != nil {
		r.log.Debug().Err(err).Str("cnpj", merged.TaxID.Normalized).Msg("registry lookup failed")
		return merged
	}
	return merged.WithTaxIDName(name)
}

func (r *Router) suggestion(ctx context.Context, s *session.Session, data invoice.Data) (string, bool) {
	if r.suggestions == nil ||
		data.TaxID.Status != invoice.StatusValidated ||
		data.Description.Status != invoice.StatusAbsent {
		return "", false
	}
	if p := s.PendingSuggestion; p != nil && p.Declined && p.TaxID == data.TaxID.Normalized {
		return "", false
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.suggestions.Suggest(callCtx, s.Phone, data.TaxID.Normalized)
}
