package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/facturaIA/nfse-chat-service/internal/invoice"
	"github.com/facturaIA/nfse-chat-service/internal/session"
)

// ErrEmptyReply is returned when the model answers with nothing
var ErrEmptyReply = errors.New("empty model reply")

// Assistant answers free questions and phrases requests for missing data
type Assistant struct {
	provider Provider
	log      zerolog.Logger
}

// NewAssistant creates an assistant on top of provider
func NewAssistant(provider Provider, log zerolog.Logger) *Assistant {
	return &Assistant{provider: provider, log: log}
}

// Answer implements extraction.Conversational
func (a *Assistant) Answer(ctx context.Context, question, invoiceContext string, history []session.Message) (string, error) {
	if invoiceContext == "" {
		invoiceContext = "Nenhum dado informado ainda."
	}
	reply, err := a.provider.Complete(ctx, Completion{
		System:      fmt.Sprintf(conversationalPrompt, invoiceContext),
		History:     turns(history, historyTurns),
		Prompt:      question,
		Temperature: 0.4,
		MaxTokens:   300,
	})
	if err != nil {
		return "", fmt.Errorf("%s answer failed: %w", a.provider.Name(), err)
	}
	return nonEmpty(reply)
}

// Phrase implements response.Phraser
func (a *Assistant) Phrase(ctx context.Context, data invoice.Data) (string, error) {
	missing := data.MissingFields()
	if len(missing) == 0 {
		missing = []string{"confirmar os dados"}
	}
	situation := data.Context()
	if situation == "" {
		situation = "Nenhum dado informado ainda."
	}

	reply, err := a.provider.Complete(ctx, Completion{
		Prompt:      fmt.Sprintf(phrasePrompt, situation, strings.Join(missing, ", ")),
		Temperature: 0.5,
		MaxTokens:   150,
	})
	if err != nil {
		return "", fmt.Errorf("%s phrasing failed: %w", a.provider.Name(), err)
	}
	return nonEmpty(reply)
}

func nonEmpty(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyReply
	}
	return s, nil
}
