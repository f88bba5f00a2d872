package response

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/facturaIA/nfse-chat-service/internal/invoice"
)

// Composer writes the reply for data that is not complete yet
type Composer interface {
	Incomplete(ctx context.Context, data invoice.Data) string
}

// Phraser asks a language model to word a request for the missing fields
type Phraser interface {
	Phrase(ctx context.Context, data invoice.Data) (string, error)
}

// TemplateComposer builds replies only from field statuses
type TemplateComposer struct {
	templates *Templates
}

// NewTemplateComposer creates a deterministic composer
func NewTemplateComposer(t *Templates) *TemplateComposer {
	return &TemplateComposer{templates: t}
}

func (c *TemplateComposer) Incomplete(_ context.Context, data invoice.Data) string {
	return c.templates.Incomplete(data)
}

// AuthoredComposer prefers text written by a language model. Field errors
// always get the deterministic invalid-data message.
type AuthoredComposer struct {
	templates *Templates
	phraser   Phraser
	timeout   time.Duration
	log       zerolog.Logger
}

// NewAuthoredComposer creates a composer; phraser may be nil
func NewAuthoredComposer(t *Templates, phraser Phraser, timeout time.Duration, log zerolog.Logger) *AuthoredComposer {
	return &AuthoredComposer{templates: t, phraser: phraser, timeout: timeout, log: log}
}

func (c *AuthoredComposer) Incomplete(ctx context.Context, data invoice.Data) string {
	if data.HasErrors() {
		return invoice.InvalidMessage(data.InvalidFields())
	}
	if data.Authored && strings.TrimSpace(data.UserMessage) != "" {
		return data.UserMessage
	}

	if c.phraser != nil {
		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		text, err := c.phraser.Phrase(ctx, data)
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
		if err != nil {
			c.log.Warn().Err(err).Msg("authored reply failed, using template")
		}
	}
	return c.templates.Incomplete(data)
}
