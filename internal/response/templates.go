// Package response renders every reply the service sends.
package response

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/facturaIA/nfse-chat-service/internal/invoice"
)

var defaultISSRate = decimal.RequireFromString("0.02")

// field labels as shown in replies
const (
	labelTaxID       = "CNPJ"
	labelAmount      = "valor"
	labelDescription = "descrição"
)

// Templates renders the canned and deterministic replies
type Templates struct {
	ISSRate decimal.Decimal
}

// NewTemplates uses the default 2% ISS rate
func NewTemplates() *Templates {
	return &Templates{ISSRate: defaultISSRate}
}

// Greeting answers a greeting, reminding the user of a conversation in progress
func (t *Templates) Greeting(data invoice.Data) string {
	if !data.IsEmpty() {
		if data.HasErrors() {
			return "Oi! Ainda temos uma nota em andamento. Preciso que corrija alguns dados."
		}
		if missing := missingLabels(data); len(missing) > 0 {
			return fmt.Sprintf("Oi! Ainda estamos naquela nota. Falta %s.", joinFields(missing))
		}
	}
	return "Oi! Para emitir sua nota, me passa o CNPJ do cliente, valor e descrição do serviço."
}

// Thanks answers a thank-you message
func (t *Templates) Thanks() string {
	return "Por nada! Se precisar de outra nota, é só mandar."
}

// Cancelled confirms the cancellation
func (t *Templates) Cancelled() string {
	return "❌ *Operação Cancelada*\n\nEnvie uma nova mensagem quando precisar emitir uma nota."
}

// Expired tells the user the previous request timed out
func (t *Templates) Expired() string {
	return "⏱️ *Tempo Esgotado*\n\nA solicitação de nota fiscal expirou.\nEnvie uma nova mensagem para recomeçar."
}

// Mirror renders the invoice summary shown for confirmation
func (t *Templates) Mirror(data invoice.Data) string {
	if !data.IsComplete() || data.Amount.Amount == nil {
		return "❌ Erro ao gerar espelho."
	}

	amount := *data.Amount.Amount
	iss := amount.Mul(t.ISSRate)

	var b strings.Builder
	b.WriteString("📋 *ESPELHO DA NOTA FISCAL*\n\n")
	fmt.Fprintf(&b, "*CNPJ:* %s\n", invoice.FormatTaxID(data.TaxID.Normalized))
	if data.TaxID.DisplayName != "" {
		fmt.Fprintf(&b, "*Tomador:* %s\n", data.TaxID.DisplayName)
	}
	fmt.Fprintf(&b, "*Descrição:* %s\n\n", data.Description.Text)
	fmt.Fprintf(&b, "*Valor dos Serviços:* %s\n", invoice.FormatBRL(amount))
	fmt.Fprintf(&b, "*ISS (%s%%):* %s\n\n", t.ISSRate.Mul(decimal.NewFromInt(100)).StringFixed(0), invoice.FormatBRL(iss))
	b.WriteString("━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&b, "*VALOR TOTAL:* %s\n\n", invoice.FormatBRL(amount))
	b.WriteString("✅ Confirma a emissão desta nota?\n\n")
	b.WriteString("Digite *SIM* para confirmar\nDigite *NÃO* para cancelar")
	return b.String()
}

// ConfirmationReminder re-renders the mirror after an unrecognized answer
func (t *Templates) ConfirmationReminder(data invoice.Data) string {
	return "Não entendi sua resposta. Responda *SIM* para emitir ou *NÃO* para cancelar.\n\n" + t.Mirror(data)
}

// SuggestionPrompt shows the confirmed fields and a description from history
func (t *Templates) SuggestionPrompt(data invoice.Data, suggestion string) string {
	var parts []string
	if data.TaxID.Status == invoice.StatusValidated {
		name := data.TaxID.DisplayName
		if name == "" {
			name = invoice.FormatTaxID(data.TaxID.Normalized)
		}
		parts = append(parts, "- CNPJ: "+name)
	}
	if data.Amount.Status == invoice.StatusValidated {
		parts = append(parts, "- Valor: "+data.Amount.Formatted)
	}

	display := suggestion
	if r := []rune(suggestion); len(r) > 100 {
		display = string(r[:97]) + "..."
	}

	return fmt.Sprintf("%s\n\nDa última vez para esse cliente você usou:\n_%s_\n\nQuer usar a mesma descrição? (*sim* ou informe uma nova)",
		strings.Join(parts, "\n"), display)
}

// Processing acknowledges that issuance started
func (t *Templates) Processing(protocol string) string {
	return "✅ *Nota Fiscal em Processamento!*\n\nVocê receberá o PDF em alguns instantes.\n\n📝 Protocolo: " + protocol
}

// Approved announces the issued invoice
func (t *Templates) Approved(number, protocol, link string) string {
	var b strings.Builder
	b.WriteString("🎉 *Nota Fiscal Emitida com Sucesso!*\n\n")
	fmt.Fprintf(&b, "Número da NFSe: *%s*\n", number)
	if protocol != "" {
		fmt.Fprintf(&b, "📝 Protocolo: %s\n", protocol)
	}
	if link != "" {
		fmt.Fprintf(&b, "\n📄 %s\n", link)
	}
	b.WriteString("\nO PDF está sendo enviado...")
	return b.String()
}

// IssuanceFailed tells the user the request is kept and the team was notified
func (t *Templates) IssuanceFailed() string {
	return "⚠️ *Não foi possível emitir a nota agora*\n\nSua solicitação foi registrada e nossa equipe já foi notificada. Avisaremos assim que a nota for emitida."
}

// ExtractionApology is sent when no extractor could read the message
func (t *Templates) ExtractionApology() string {
	return "Desculpe, não consegui entender sua mensagem agora. Pode enviar novamente o CNPJ, o valor e a descrição do serviço?"
}

// QuestionFallback is sent when a question cannot be answered
func (t *Templates) QuestionFallback() string {
	return "Desculpe, não consegui processar sua pergunta. Pode tentar novamente?"
}

// GenericRetry is sent when the turn failed unexpectedly
func (t *Templates) GenericRetry() string {
	return "❌ Ocorreu um erro ao processar sua mensagem. Por favor, tente novamente em instantes."
}

// Incomplete renders the reply for data that is not complete yet: errors
// first, then what is still missing.
func (t *Templates) Incomplete(data invoice.Data) string {
	if data.HasErrors() {
		return t.errorReply(data)
	}
	if data.IsComplete() {
		return t.Mirror(data)
	}
	return t.partialReply(data)
}

func (t *Templates) errorReply(data invoice.Data) string {
	var errs, confirmed, missing []string

	switch data.TaxID.Status {
	case invoice.StatusError:
		errs = append(errs, taxIDError(data.TaxID))
	case invoice.StatusValidated:
		confirmed = append(confirmed, labelTaxID)
	default:
		missing = append(missing, labelTaxID)
	}

	switch data.Amount.Status {
	case invoice.StatusError:
		errs = append(errs, "O valor informado precisa ser maior que zero.")
	case invoice.StatusValidated:
		confirmed = append(confirmed, labelAmount)
	default:
		missing = append(missing, labelAmount)
	}

	switch data.Description.Status {
	case invoice.StatusError:
		errs = append(errs, descriptionError(data.Description))
	case invoice.StatusValidated:
		confirmed = append(confirmed, labelDescription)
	default:
		missing = append(missing, labelDescription)
	}

	parts := []string{strings.Join(errs, " ")}
	if len(confirmed) > 0 {
		parts = append(parts, fmt.Sprintf("%s %s.", strings.Join(confirmed, " e "), plural("confirmado", len(confirmed))))
	}
	if len(missing) > 0 {
		parts = append(parts, fmt.Sprintf("Também preciso de %s.", joinFields(missing)))
	}
	return strings.Join(parts, " ")
}

func (t *Templates) partialReply(data invoice.Data) string {
	var confirmed []string
	if data.TaxID.Status == invoice.StatusValidated {
		confirmed = append(confirmed, labelTaxID)
	}
	if data.Amount.Status == invoice.StatusValidated {
		confirmed = append(confirmed, labelAmount)
	}
	if data.Description.Status == invoice.StatusValidated {
		confirmed = append(confirmed, labelDescription)
	}
	missing := missingLabels(data)

	switch {
	case len(confirmed) == 0:
		return "Para emitir a nota, preciso do CNPJ do cliente, valor e descrição do serviço."
	case len(missing) == 1:
		article := "o "
		if missing[0] == labelDescription {
			article = "a "
		}
		return fmt.Sprintf("%s %s! Só falta %s%s.", strings.Join(confirmed, " e "), plural("confirmado", len(confirmed)), article, missing[0])
	case len(missing) == 2:
		return fmt.Sprintf("%s confirmado! Agora me passa %s.", confirmed[0], joinFields(missing))
	}
	return "Para emitir a nota, preciso do CNPJ, valor e descrição do serviço."
}

func taxIDError(f invoice.TaxIDField) string {
	switch f.ErrorCode {
	case invoice.CodeCheckDigitInvalid:
		return "Esse CNPJ parece ter os dígitos incorretos, pode conferir?"
	case invoice.CodeFormatInvalid:
		return "Esse CNPJ não parece válido. Precisa ter 14 dígitos."
	}
	return "O CNPJ informado parece incorreto, pode verificar?"
}

func descriptionError(f invoice.DescriptionField) string {
	switch f.ErrorCode {
	case invoice.CodeTooShort:
		return "A descrição ficou muito curta. Pode detalhar melhor o serviço?"
	case invoice.CodeTooLong:
		return fmt.Sprintf("A descrição ficou muito longa. Tenta resumir em até %d caracteres.", invoice.MaxDescriptionLength)
	}
	return "A descrição precisa de ajuste, pode reformular?"
}

// missingLabels lists absent fields, counting a pending suggestion as missing
func missingLabels(data invoice.Data) []string {
	var missing []string
	if data.TaxID.Status == invoice.StatusAbsent {
		missing = append(missing, labelTaxID)
	}
	if data.Amount.Status == invoice.StatusAbsent {
		missing = append(missing, labelAmount)
	}
	if s := data.Description.Status; s == invoice.StatusAbsent || s == invoice.StatusWarning {
		missing = append(missing, labelDescription)
	}
	return missing
}

func joinFields(fields []string) string {
	switch len(fields) {
	case 0:
		return ""
	case 1:
		return fields[0]
	}
	return strings.Join(fields[:len(fields)-1], ", ") + " e " + fields[len(fields)-1]
}

func plural(word string, n int) string {
	if n > 1 {
		return word + "s"
	}
	return word
}
