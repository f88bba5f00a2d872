// Package processor runs one conversation turn: it loads the session, routes
// the message, moves the state machine and persists the result.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/facturaIA/nfse-chat-service/internal/conversation"
	"github.com/facturaIA/nfse-chat-service/internal/events"
	"github.com/facturaIA/nfse-chat-service/internal/extraction"
	"github.com/facturaIA/nfse-chat-service/internal/issuance"
	"github.com/facturaIA/nfse-chat-service/internal/logger"
	"github.com/facturaIA/nfse-chat-service/internal/response"
	"github.com/facturaIA/nfse-chat-service/internal/session"
)

const DefaultLockTimeout = 30 * time.Second

// Processor is the single entry point for inbound messages
type Processor struct {
	store       *session.Store
	router      *extraction.Router
	issuer      issuance.Issuer
	publisher   events.Publisher
	templates   *response.Templates
	lockTimeout time.Duration
	log         zerolog.Logger
}

// Option configures a Processor
type Option func(*Processor)

// WithPublisher sends lifecycle events
func WithPublisher(p events.Publisher) Option {
	return func(pr *Processor) { pr.publisher = p }
}

// WithLockTimeout bounds how long a turn waits for the same phone
func WithLockTimeout(d time.Duration) Option {
	return func(pr *Processor) {
		if d > 0 {
			pr.lockTimeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(pr *Processor) { pr.log = l }
}

// New creates a processor
func New(store *session.Store, router *extraction.Router, issuer issuance.Issuer, opts ...Option) *Processor {
	p := &Processor{
		store:       store,
		router:      router,
		issuer:      issuer,
		publisher:   events.NopPublisher{},
		templates:   router.Templates(),
		lockTimeout: DefaultLockTimeout,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles one message and always returns exactly one reply.
// Failures are logged and answered with a generic retry message; the stored
// session only changes when the turn succeeds.
func (p *Processor) Process(ctx context.Context, phone, text string) (reply string) {
	log := p.log.With().Str("phone", logger.MaskPhone(phone)).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("turn panicked")
			reply = p.templates.GenericRetry()
		}
	}()

	reply, err := p.process(ctx, phone, text, log)
	if err != nil {
		log.Error().Err(err).Msg("turn failed")
		return p.templates.GenericRetry()
	}
	return reply
}

func (p *Processor) process(ctx context.Context, phone, text string, log zerolog.Logger) (string, error) {
	lockCtx, cancel := context.WithTimeout(ctx, p.lockTimeout)
	unlock, err := p.store.Lock(lockCtx, phone)
	cancel()
	if err != nil {
		return "", fmt.Errorf("failed to lock session: %w", err)
	}
	defer unlock()

	stored, created, err := p.store.GetOrCreate(ctx, phone)
	if err != nil {
		return "", fmt.Errorf("failed to load session: %w", err)
	}
	sess := stored.Clone()
	log = log.With().Str("session_id", sess.ID).Logger()

	sess.AddUserMessage(text, p.store.Now())

	if sess.State == conversation.AwaitingConfirmation {
		return p.confirm(ctx, sess, text, log)
	}
	return p.collect(ctx, sess, text, created, log)
}

// collect routes a message while data is still being gathered
func (p *Processor) collect(ctx context.Context, sess *session.Session, text string, created bool, log zerolog.Logger) (string, error) {
	out, err := p.router.Route(ctx, sess, text)
	if err != nil {
		return "", fmt.Errorf("failed to route message: %w", err)
	}

	now := p.store.Now()
	reason := session.ReasonNone

	switch {
	case out.Cancel && sess.State == conversation.Collecting:
		// nothing collected yet, so there is nothing to keep
		if !created {
			if err := p.store.Discard(ctx, sess); err != nil {
				return "", fmt.Errorf("failed to discard session: %w", err)
			}
		}
		log.Info().Msg("empty session cancelled")
		return out.Reply, nil

	case out.Cancel:
		if err := sess.TransitionTo(conversation.CancelledByUser, now); err != nil {
			return "", err
		}
		reason = session.ReasonCancelled

	case out.Kind != extraction.KindData || out.Failed:
		// templated replies, answers and failed extractions keep the state

	case sess.Invoice.IsComplete():
		if err := sess.TransitionTo(conversation.AwaitingConfirmation, now); err != nil {
			return "", err
		}
		reason = session.ReasonDataComplete

	default:
		if err := sess.TransitionTo(conversation.Incomplete, now); err != nil {
			return "", err
		}
	}

	sess.AddAssistantMessage(out.Reply, now)
	if err := p.store.Save(ctx, sess, reason); err != nil {
		return "", fmt.Errorf("failed to save session: %w", err)
	}

	log.Info().
		Str("kind", string(out.Kind)).
		Str("state", string(sess.State)).
		Bool("complete", sess.Invoice.IsComplete()).
		Msg("turn processed")

	if reason == session.ReasonCancelled {
		p.publish(ctx, events.SessionCancelled, sessionPayload(sess), log)
	}
	return out.Reply, nil
}

// confirm interprets the answer to the mirror
func (p *Processor) confirm(ctx context.Context, sess *session.Session, text string, log zerolog.Logger) (string, error) {
	now := p.store.Now()

	switch {
	case extraction.IsAffirmative(text):
		return p.issue(ctx, sess, log)

	case extraction.IsNegative(text):
		if err := sess.TransitionTo(conversation.CancelledByUser, now); err != nil {
			return "", err
		}
		reply := p.templates.Cancelled()
		sess.AddAssistantMessage(reply, now)
		if err := p.store.Save(ctx, sess, session.ReasonCancelled); err != nil {
			return "", fmt.Errorf("failed to save session: %w", err)
		}
		log.Info().Msg("invoice cancelled at confirmation")
		p.publish(ctx, events.SessionCancelled, sessionPayload(sess), log)
		return reply, nil

	default:
		reply := p.templates.ConfirmationReminder(sess.Invoice)
		sess.AddAssistantMessage(reply, now)
		if err := p.store.Save(ctx, sess, session.ReasonNone); err != nil {
			return "", fmt.Errorf("failed to save session: %w", err)
		}
		return reply, nil
	}
}

// issue persists the confirmation before calling the issuer exactly once.
// After that point the session stays in processing or moves to approved;
// it is never reopened for collection.
func (p *Processor) issue(ctx context.Context, sess *session.Session, log zerolog.Logger) (string, error) {
	now := p.store.Now()
	if err := sess.TransitionTo(conversation.Processing, now); err != nil {
		return "", err
	}
	if err := p.store.Save(ctx, sess, session.ReasonConfirmed); err != nil {
		return "", fmt.Errorf("failed to save confirmation: %w", err)
	}
	log.Info().Msg("invoice confirmed")
	p.publish(ctx, events.SessionConfirmed, sessionPayload(sess), log)

	result, err := p.issuer.Issue(ctx, sess)
	now = p.store.Now()
	if err != nil {
		log.Error().Err(err).Msg("issuance failed")

		reply := p.templates.IssuanceFailed()
		sess.AddSystemMessage("falha na emissão: "+err.Error(), now)
		sess.AddAssistantMessage(reply, now)
		if err := p.store.Save(ctx, sess, session.ReasonError); err != nil {
			log.Error().Err(err).Msg("failed to record issuance failure")
		}
		p.publish(ctx, events.InvoiceFailed, events.InvoicePayload{
			SessionID: sess.ID,
			Phone:     sess.Phone,
			Amount:    sess.Invoice.Amount.Formatted,
			Error:     err.Error(),
		}, log)
		return reply, nil
	}

	if err := sess.TransitionTo(conversation.Approved, now); err != nil {
		return "", err
	}
	link := result.ReceiptURL
	if link == "" {
		link = result.PDFURL
	}
	reply := p.templates.Approved(result.DocumentNumber, result.Protocol, link)
	sess.AddSystemMessage(fmt.Sprintf("NFS-e %s emitida, protocolo %s", result.DocumentNumber, result.Protocol), now)
	sess.AddAssistantMessage(reply, now)

	// the invoice exists now, so a failed save must not turn into a retry prompt
	if err := p.store.Save(ctx, sess, session.ReasonConfirmed); err != nil {
		log.Error().Err(err).Str("numero", result.DocumentNumber).Msg("failed to record issued invoice")
	}

	log.Info().
		Str("numero", result.DocumentNumber).
		Str("protocolo", result.Protocol).
		Msg("invoice issued")
	p.publish(ctx, events.InvoiceIssued, events.InvoicePayload{
		SessionID:      sess.ID,
		Phone:          sess.Phone,
		DocumentNumber: result.DocumentNumber,
		AccessKey:      result.AccessKey,
		Protocol:       result.Protocol,
		Amount:         sess.Invoice.Amount.Formatted,
	}, log)
	return reply, nil
}

func (p *Processor) publish(ctx context.Context, eventType string, data interface{}, log zerolog.Logger) {
	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

func sessionPayload(s *session.Session) events.SessionPayload {
	return events.SessionPayload{
		SessionID:   s.ID,
		Phone:       s.Phone,
		State:       string(s.State),
		CNPJ:        s.Invoice.TaxID.Normalized,
		Amount:      s.Invoice.Amount.Formatted,
		Description: s.Invoice.Description.Text,
	}
}
