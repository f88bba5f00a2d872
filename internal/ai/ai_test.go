package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturaIA/nfse-chat-service/internal/extraction"
	"github.com/facturaIA/nfse-chat-service/internal/invoice"
	"github.com/facturaIA/nfse-chat-service/internal/session"
)

type stubProvider struct {
	reply string
	err   error
	last  Completion
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(_ context.Context, c Completion) (string, error) {
	s.last = c
	return s.reply, s.err
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		complete bool
		message  string
	}{
		{
			name:     "flat object",
			raw:      `{"cnpj": "11.222.333/0001-81", "valor": "1.500,00", "descricao": "consultoria em TI", "user_message": "Tudo certo!"}`,
			complete: true,
			message:  "Tudo certo!",
		},
		{
			name:     "fenced with numeric amount",
			raw:      "```json\n{\"cnpj\": \"11222333000181\", \"valor\": 1500, \"descricao\": \"consultoria em TI\"}\n```",
			complete: true,
		},
		{
			name:     "nested fields",
			raw:      `{"cnpj": {"cnpj_extracted": "11222333000181", "status": "validated"}, "valor": {"valor_extracted": "1500"}, "descricao": {"descricao_extracted": "consultoria em TI"}}`,
			complete: true,
		},
		{
			name: "prose around the object",
			raw:  `Aqui está: {"cnpj": "", "valor": "", "descricao": "", "user_message": "Qual o CNPJ?"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := parseResponse(tt.raw, true)
			require.NoError(t, err)
			assert.Equal(t, tt.complete, data.IsComplete())
			if tt.message != "" {
				assert.Equal(t, tt.message, data.UserMessage)
				assert.True(t, data.Authored)
			}
		})
	}
}

func TestParseResponseAmountFormatting(t *testing.T) {
	data, err := parseResponse(`{"cnpj": 11222333000181, "valor": 1500.5, "descricao": null}`, false)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusValidated, data.TaxID.Status)
	assert.Equal(t, "R$ 1.500,50", data.Amount.Formatted)
	assert.Equal(t, invoice.StatusAbsent, data.Description.Status)
}

func TestParseResponseRejectsGarbage(t *testing.T) {
	_, err := parseResponse("desculpe, não entendi", true)
	assert.Error(t, err)

	_, err = parseResponse("", true)
	assert.Error(t, err)
}

func TestExtractorFailures(t *testing.T) {
	tests := []struct {
		name  string
		stub  *stubProvider
		kind  extraction.FailureKind
		isErr error
	}{
		{"refusal", &stubProvider{err: ErrRefused}, extraction.FailureRefusal, ErrRefused},
		{"timeout", &stubProvider{err: context.DeadlineExceeded}, extraction.FailureTimeout, context.DeadlineExceeded},
		{"provider down", &stubProvider{err: errors.New("503")}, extraction.FailureUnavailable, nil},
		{"malformed", &stubProvider{reply: "not json"}, extraction.FailureMalformed, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExtractor(tt.stub, zerolog.Nop())
			_, err := e.Extract(context.Background(), extraction.Request{Message: "oi"})

			var f *extraction.ExtractionFailure
			require.ErrorAs(t, err, &f)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, "stub/general", f.Extractor)
			assert.ErrorIs(t, err, extraction.ErrExtraction)
			if tt.isErr != nil {
				assert.ErrorIs(t, err, tt.isErr)
			}
		})
	}
}

func TestFocusedExtractorDropsMessage(t *testing.T) {
	stub := &stubProvider{reply: `{"cnpj": "11222333000181", "valor": "", "descricao": "", "user_message": "Qual o valor?"}`}
	e := NewFocusedExtractor(stub, zerolog.Nop())

	data, err := e.Extract(context.Background(), extraction.Request{
		Message: "11222333000181",
		Context: "Valor ainda não foi informado.",
		History: []session.Message{
			{Role: session.RoleUser, Text: "oi"},
			{Role: session.RoleSystem, Text: "interno"},
			{Role: session.RoleAssistant, Text: "Olá!"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "stub/focused", e.Name())
	assert.False(t, data.Authored)
	assert.Equal(t, invoice.StatusValidated, data.TaxID.Status)
	assert.True(t, stub.last.JSON)
	assert.Contains(t, stub.last.Prompt, "MENSAGEM DO USUARIO")
	assert.Equal(t, []Turn{{FromUser: true, Text: "oi"}, {Text: "Olá!"}}, stub.last.History)
}

func TestAssistant(t *testing.T) {
	stub := &stubProvider{reply: "  O ISS é de 2%.  "}
	a := NewAssistant(stub, zerolog.Nop())

	reply, err := a.Answer(context.Background(), "qual o imposto?", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "O ISS é de 2%.", reply)
	assert.Contains(t, stub.last.System, "Nenhum dado informado ainda.")

	stub.reply = ""
	_, err = a.Phrase(context.Background(), invoice.Empty())
	assert.ErrorIs(t, err, ErrEmptyReply)
	assert.Contains(t, stub.last.Prompt, "cnpj, valor, descricao")
}
