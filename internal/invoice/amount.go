package invoice

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountField is the service amount as extracted and validated
type AmountField struct {
	Raw       string           `json:"raw_extracted,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Formatted string           `json:"formatted_display,omitempty"`
	Issue     string           `json:"issue,omitempty"`
	ErrorCode string           `json:"error_code,omitempty"`
	Status    FieldStatus      `json:"status"`
}

// ValidateAmount parses raw in Brazilian or plain notation and validates it
func ValidateAmount(raw string) AmountField {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return AmountField{Status: StatusAbsent}
	}

	value, err := ParseAmount(raw)
	if err != nil {
		return AmountField{
			Raw:       raw,
			Status:    StatusError,
			ErrorCode: CodeAmountInvalid,
			Issue:     fmt.Sprintf("Valor não reconhecido: %q", raw),
		}
	}

	field := NewAmount(value)
	field.Raw = raw
	return field
}

// NewAmount validates an already parsed amount
func NewAmount(value decimal.Decimal) AmountField {
	if !value.IsPositive() {
		return AmountField{
			Raw:       value.String(),
			Status:    StatusError,
			ErrorCode: CodeAmountInvalid,
			Issue:     fmt.Sprintf("Valor deve ser maior que zero (informado: %s)", value.StringFixed(2)),
		}
	}

	v := value.Round(2)
	return AmountField{
		Raw:       value.String(),
		Amount:    &v,
		Formatted: FormatBRL(v),
		Status:    StatusValidated,
	}
}

// ParseAmount understands "1.500,00", "1500,00", "1500.00", "1,500.00",
// "R$ 1.500" and "1500 reais".
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "r$")
	s = strings.TrimSuffix(s, "reais")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case lastDot >= 0:
		// "1.500" and "1.500.000" are thousands in pt-BR, "1500.5" is a decimal
		if strings.Count(s, ".") > 1 || len(s)-lastDot-1 == 3 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	value, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return value, nil
}

// FormatBRL renders an amount as "R$ 1.500,00"
func FormatBRL(value decimal.Decimal) string {
	fixed := value.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}

	sign := ""
	if value.IsNegative() {
		sign = "-"
	}
	return fmt.Sprintf("R$ %s%s,%s", sign, b.String(), frac)
}
