package extraction

import (
	"context"

	"github.com/facturaIA/nfse-chat-service/internal/invoice"
	"github.com/facturaIA/nfse-chat-service/internal/session"
)

// Request is one extraction call
type Request struct {
	Message string
	// Context summarizes the invoice data already collected
	Context string
	History []session.Message
}

// Extractor turns a free-text message into invoice data.
// Implementations return an *ExtractionFailure rather than partial data.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, req Request) (invoice.Data, error)
}

// Conversational answers questions without touching invoice data
type Conversational interface {
	Answer(ctx context.Context, question, context string, history []session.Message) (string, error)
}
