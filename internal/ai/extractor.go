package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/facturaIA/nfse-chat-service/internal/extraction"
	"github.com/facturaIA/nfse-chat-service/internal/invoice"
	"github.com/facturaIA/nfse-chat-service/internal/session"
)

const historyTurns = 4

// Extractor asks a language model for the invoice fields in a message.
// The focused variant returns no user message; replies are composed
// elsewhere.
type Extractor struct {
	provider Provider
	focused  bool
	log      zerolog.Logger
}

// NewExtractor creates a general extractor
func NewExtractor(provider Provider, log zerolog.Logger) *Extractor {
	return &Extractor{provider: provider, log: log}
}

// NewFocusedExtractor creates an extractor that only extracts
func NewFocusedExtractor(provider Provider, log zerolog.Logger) *Extractor {
	return &Extractor{provider: provider, focused: true, log: log}
}

// Name implements extraction.Extractor
func (e *Extractor) Name() string {
	if e.focused {
		return e.provider.Name() + "/focused"
	}
	return e.provider.Name() + "/general"
}

// Extract implements extraction.Extractor
func (e *Extractor) Extract(ctx context.Context, req extraction.Request) (invoice.Data, error) {
	system := generalPrompt
	if e.focused {
		system = focusedPrompt
	}

	prompt := req.Message
	if req.Context != "" {
		prompt = req.Context + "\n\nMENSAGEM DO USUARIO:\n" + req.Message
	}

	raw, err := e.provider.Complete(ctx, Completion{
		System:      system,
		History:     turns(req.History, historyTurns),
		Prompt:      prompt,
		JSON:        true,
		Temperature: 0.1,
		MaxTokens:   512,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrRefused):
			return invoice.Data{}, extraction.Fail(e.Name(), extraction.FailureRefusal, err)
		case errors.Is(err, context.DeadlineExceeded):
			return invoice.Data{}, extraction.Fail(e.Name(), extraction.FailureTimeout, err)
		}
		return invoice.Data{}, extraction.Fail(e.Name(), extraction.FailureUnavailable, err)
	}

	data, err := parseResponse(raw, !e.focused)
	if err != nil {
		e.log.Debug().Str("extractor", e.Name()).Str("raw", raw).Msg("unparseable model response")
		return invoice.Data{}, extraction.Fail(e.Name(), extraction.FailureMalformed, err)
	}

	e.log.Info().
		Str("extractor", e.Name()).
		Str("cnpj", string(data.TaxID.Status)).
		Str("valor", string(data.Amount.Status)).
		Str("descricao", string(data.Description.Status)).
		Bool("complete", data.IsComplete()).
		Msg("extraction done")
	return data, nil
}

type extractedFields struct {
	TaxID       interface{} `json:"cnpj"`
	Amount      interface{} `json:"valor"`
	Description interface{} `json:"descricao"`
	UserMessage string      `json:"user_message"`
}

// parseResponse reads the model JSON. Fields may be plain values or
// objects carrying the raw text under "<field>_extracted".
func parseResponse(raw string, withMessage bool) (invoice.Data, error) {
	cleaned := stripFences(raw)
	if cleaned == "" {
		return invoice.Data{}, fmt.Errorf("empty response")
	}

	dec := json.NewDecoder(strings.NewReader(cleaned))
	dec.UseNumber()

	var fields extractedFields
	if err := dec.Decode(&fields); err != nil {
		return invoice.Data{}, fmt.Errorf("invalid JSON: %w", err)
	}

	message := ""
	if withMessage {
		message = fields.UserMessage
	}
	return invoice.New(
		fieldText(fields.TaxID, invoice.FieldTaxID),
		fieldText(fields.Amount, invoice.FieldAmount),
		fieldText(fields.Description, invoice.FieldDescription),
		message,
	), nil
}

func stripFences(s string) string {
	fence := strings.Repeat("`", 3)
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, fence+"json", "")
	s = strings.ReplaceAll(s, fence, "")
	s = strings.TrimSpace(s)

	// some models wrap the object in prose
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start > 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

// fieldText flattens whatever the model put in a field into raw text
func fieldText(v interface{}, name string) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		s := strings.TrimSpace(val)
		if strings.EqualFold(s, "null") || strings.EqualFold(s, "none") {
			return ""
		}
		return s
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil || name != invoice.FieldAmount {
			return val.String()
		}
		return d.StringFixed(2)
	case float64:
		if name != invoice.FieldAmount {
			return decimal.NewFromFloat(val).String()
		}
		return decimal.NewFromFloat(val).StringFixed(2)
	case map[string]interface{}:
		for _, key := range []string{name + "_extracted", "raw_extracted", name, "value"} {
			if s := fieldText(val[key], name); s != "" {
				return s
			}
		}
	}
	return ""
}

func turns(history []session.Message, n int) []Turn {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]Turn, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case session.RoleUser:
			out = append(out, Turn{FromUser: true, Text: m.Text})
		case session.RoleAssistant:
			out = append(out, Turn{Text: m.Text})
		}
	}
	return out
}
