package invoice

import (
	"fmt"
	"strings"
)

// Field names as shown to users and the extraction model
const (
	FieldTaxID       = "cnpj"
	FieldAmount      = "valor"
	FieldDescription = "descricao"
)

// Data aggregates the three invoice fields collected across turns.
// Completeness and the field lists are derived on every call, never stored.
type Data struct {
	TaxID       TaxIDField       `json:"cnpj"`
	Amount      AmountField      `json:"valor"`
	Description DescriptionField `json:"descricao"`

	UserMessage string `json:"user_message,omitempty"`
	// Authored is true when UserMessage was written by the extractor
	Authored bool `json:"user_message_authored,omitempty"`

	// ExtractorMessage is the raw text the extractor proposed for this turn
	ExtractorMessage string `json:"-"`
}

// Empty returns data with every field absent
func Empty() Data {
	return Data{
		TaxID:       TaxIDField{Status: StatusAbsent},
		Amount:      AmountField{Status: StatusAbsent},
		Description: DescriptionField{Status: StatusAbsent},
	}
}

// New builds data from raw extracted values and recomputes the message.
// message is the extractor supplied text, if any.
func New(taxID, amount, description, message string) Data {
	d := Data{
		TaxID:            ValidateTaxID(taxID),
		Amount:           ValidateAmount(amount),
		Description:      ValidateDescription(description),
		ExtractorMessage: message,
	}
	return d.withMessage(message)
}

// IsComplete reports whether all three fields are validated
func (d Data) IsComplete() bool {
	return d.TaxID.Status == StatusValidated &&
		d.Amount.Status == StatusValidated &&
		d.Description.Status == StatusValidated
}

// MissingFields lists the fields that are still absent
func (d Data) MissingFields() []string {
	var missing []string
	if d.TaxID.Status == StatusAbsent {
		missing = append(missing, FieldTaxID)
	}
	if d.Amount.Status == StatusAbsent {
		missing = append(missing, FieldAmount)
	}
	if d.Description.Status == StatusAbsent {
		missing = append(missing, FieldDescription)
	}
	return missing
}

// InvalidFields lists "<field>: <issue>" for every field in error
func (d Data) InvalidFields() []string {
	var invalid []string
	if d.TaxID.Status == StatusError {
		invalid = append(invalid, FieldTaxID+": "+d.TaxID.Issue)
	}
	if d.Amount.Status == StatusError {
		invalid = append(invalid, FieldAmount+": "+d.Amount.Issue)
	}
	if d.Description.Status == StatusError {
		invalid = append(invalid, FieldDescription+": "+d.Description.Issue)
	}
	return invalid
}

// HasErrors reports whether any field is in error
func (d Data) HasErrors() bool {
	return d.TaxID.Status == StatusError ||
		d.Amount.Status == StatusError ||
		d.Description.Status == StatusError
}

// IsEmpty reports whether nothing at all has been collected
func (d Data) IsEmpty() bool {
	return d.TaxID.Status == StatusAbsent &&
		d.Amount.Status == StatusAbsent &&
		d.Description.Status == StatusAbsent
}

// Merge combines the data known so far with a newly extracted turn.
//
// Per field, highest precedence first: a previous error is always replaced,
// a validated incoming value always wins, an absent incoming value keeps a
// previously validated one, otherwise the incoming value is taken.
func Merge(previous, incoming Data) Data {
	merged := Data{
		TaxID:       pick(previous.TaxID.Status, incoming.TaxID.Status, previous.TaxID, incoming.TaxID),
		Amount:      pick(previous.Amount.Status, incoming.Amount.Status, previous.Amount, incoming.Amount),
		Description: pick(previous.Description.Status, incoming.Description.Status, previous.Description, incoming.Description),
	}

	return merged.withMessage(incoming.ExtractorMessage)
}

func pick[T any](prevStatus, inStatus FieldStatus, prev, in T) T {
	switch {
	case prevStatus == StatusError:
		return in
	case inStatus == StatusValidated:
		return in
	case inStatus == StatusAbsent && prevStatus == StatusValidated:
		return prev
	default:
		return in
	}
}

// WithDescription replaces the description and recomputes the message
func (d Data) WithDescription(field DescriptionField) Data {
	d.Description = field
	return d.withMessage("")
}

// WithTaxIDName records the registry name of the validated tax ID
func (d Data) WithTaxIDName(name string) Data {
	d.TaxID.DisplayName = name
	return d
}

// withMessage recomputes UserMessage: errors first, then the extractor text,
// then a synthesized fallback.
func (d Data) withMessage(extractorMessage string) Data {
	d.Authored = false
	switch {
	case d.HasErrors():
		d.UserMessage = InvalidMessage(d.InvalidFields())
	case strings.TrimSpace(extractorMessage) != "":
		d.UserMessage = strings.TrimSpace(extractorMessage)
		d.Authored = true
	default:
		d.UserMessage = d.fallbackMessage()
	}
	return d
}

func (d Data) fallbackMessage() string {
	if d.IsComplete() {
		return "✅ Todos os dados foram coletados!"
	}

	lines := []string{"⚠️ Ainda falta:"}
	for _, f := range d.MissingFields() {
		lines = append(lines, "• "+f)
	}
	if d.Description.Status == StatusWarning {
		lines = append(lines, "• confirmar a descricao sugerida")
	}
	return strings.Join(lines, "\n")
}

// InvalidMessage renders the deterministic "invalid data" reply
func InvalidMessage(invalid []string) string {
	var b strings.Builder
	b.WriteString("❌ *Dados Inválidos*\n\n")
	for _, issue := range invalid {
		fmt.Fprintf(&b, "• %s\n", issue)
	}
	b.WriteString("\nPor favor, corrija e envie novamente.\nOu digite *cancelar* para cancelar.")
	return b.String()
}

// Context describes what is already known so the extraction model does not
// ask for it again. Empty when nothing has been collected.
func (d Data) Context() string {
	if d.IsEmpty() {
		return ""
	}

	var lines []string

	switch d.TaxID.Status {
	case StatusValidated:
		lines = append(lines, "CNPJ já informado: "+d.TaxID.Normalized)
	case StatusError:
		lines = append(lines, "CNPJ informado está com erro: "+d.TaxID.Issue)
	default:
		lines = append(lines, "CNPJ ainda não foi informado.")
	}

	switch d.Amount.Status {
	case StatusValidated:
		lines = append(lines, "Valor já informado: "+d.Amount.Formatted)
	case StatusError:
		lines = append(lines, "Valor informado está com erro: "+d.Amount.Issue)
	default:
		lines = append(lines, "Valor ainda não foi informado.")
	}

	switch d.Description.Status {
	case StatusValidated:
		lines = append(lines, "Descrição já informada: "+preview(d.Description.Text, 80))
	case StatusWarning:
		lines = append(lines, "Descrição precisa ser confirmada: "+preview(d.Description.Suggested, 80))
	case StatusError:
		lines = append(lines, "Descrição informada está com erro: "+d.Description.Issue)
	default:
		lines = append(lines, "Descrição ainda não foi informada.")
	}

	return strings.Join(lines, "\n")
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// FromFields assembles data from fields validated elsewhere
func FromFields(taxID TaxIDField, amount AmountField, description DescriptionField, message string) Data {
	d := Data{
		TaxID:            taxID,
		Amount:           amount,
		Description:      description,
		ExtractorMessage: message,
	}
	return d.withMessage(message)
}
