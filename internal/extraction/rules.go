package extraction

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/facturaIA/nfse-chat-service/internal/invoice"
)

const number = `\d{1,3}(?:\.\d{3})+(?:,\d{1,2})?|\d+(?:[.,]\d{1,2})?`

var (
	cnpjLabeled   = regexp.MustCompile(`(?i)cnpj\s*:?\s*(\d[\d./-]{6,}\d)`)
	cnpjFormatted = regexp.MustCompile(`\d{2}\.\d{3}\.\d{3}/\d{4}-\d{1,2}`)
	// long digit runs are tax ID candidates even when the length is wrong,
	// so validation reports them instead of reading them as amounts
	cnpjDigits = regexp.MustCompile(`\b\d{11,}\b`)

	amountLabeled = regexp.MustCompile(`(?i)(?:valor(?:\s+de)?|r\$)\s*:?\s*(?:r\$\s*)?(` + number + `)`)
	amountReais   = regexp.MustCompile(`(?i)(` + number + `)\s*reais\b`)
	amountBare    = regexp.MustCompile(`\b(` + number + `)\b`)

	segmentSep = regexp.MustCompile(`[,;\n]+|\s+-\s+`)

	fillers = setOf("quero", "queria", "preciso", "emitir", "emita", "gerar", "gere",
		"nota", "notinha", "nf", "nfse", "nfs-e", "fiscal", "uma", "um", "de", "da", "do",
		"para", "pra", "o", "a", "e", "com", "no", "na", "cnpj", "valor", "reais", "r$",
		"descricao", "referente", "ao", "por", "favor", "pf", "pfv", "ok")
)

const (
	minDescriptionRunes = 4
	// bare numbers with more integer digits are never amounts
	maxBareAmountDigits = 9
)

// RuleExtractor pulls the three fields out of a message with regular
// expressions. It never fails and never calls out, so it backs every
// language model extractor.
type RuleExtractor struct{}

// NewRuleExtractor returns the zero-cost extractor
func NewRuleExtractor() *RuleExtractor { return &RuleExtractor{} }

// Name implements Extractor
func (*RuleExtractor) Name() string { return "rules" }

// Extract implements Extractor
func (r *RuleExtractor) Extract(_ context.Context, req Request) (invoice.Data, error) {
	taxID, amount, description := r.Parse(req.Message)
	return invoice.New(taxID, amount, description, ""), nil
}

// Parse returns the raw CNPJ, amount and description found in text.
// Each is empty when not present.
func (*RuleExtractor) Parse(text string) (taxID, amount, description string) {
	rest := text

	if value, start, end, ok := findFirst(rest, cnpjLabeled, cnpjFormatted, cnpjDigits); ok {
		taxID = value
		rest = blank(rest, start, end)
	}

	if value, start, end, ok := findFirst(rest, amountLabeled, amountReais); ok {
		amount = value
		rest = blank(rest, start, end)
	} else if value, start, end, ok := findBareAmount(rest); ok {
		amount = value
		rest = blank(rest, start, end)
	}

	for _, seg := range segmentSep.Split(rest, -1) {
		seg = trimFillers(seg)
		if utf8.RuneCountInString(seg) > utf8.RuneCountInString(description) {
			description = seg
		}
	}
	if utf8.RuneCountInString(description) < minDescriptionRunes {
		description = ""
	}
	return taxID, amount, description
}

// findFirst tries each pattern in order. The value is the first capture
// group when the pattern has one, the whole match otherwise.
func findFirst(text string, patterns ...*regexp.Regexp) (value string, start, end int, ok bool) {
	for _, re := range patterns {
		m := re.FindStringSubmatchIndex(text)
		if m == nil {
			continue
		}
		if len(m) >= 4 && m[2] >= 0 {
			return text[m[2]:m[3]], m[0], m[1], true
		}
		return text[m[0]:m[1]], m[0], m[1], true
	}
	return "", 0, 0, false
}

func findBareAmount(text string) (value string, start, end int, ok bool) {
	for _, m := range amountBare.FindAllStringSubmatchIndex(text, -1) {
		candidate := text[m[2]:m[3]]
		whole := countDigits(strings.FieldsFunc(candidate, func(r rune) bool { return r == ',' })[0])
		if countDigits(candidate) >= 2 && whole <= maxBareAmountDigits {
			return candidate, m[0], m[1], true
		}
	}
	return "", 0, 0, false
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// blank overwrites text[start:end] with spaces so later offsets stay valid
func blank(text string, start, end int) string {
	return text[:start] + strings.Repeat(" ", end-start) + text[end:]
}

func trimFillers(seg string) string {
	words := strings.Fields(seg)
	isFiller := func(w string) bool {
		return contains(fillers, strings.Trim(Fold(w), ".!?:"))
	}
	for len(words) > 0 && isFiller(words[0]) {
		words = words[1:]
	}
	for len(words) > 0 && isFiller(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	return strings.Trim(strings.Join(words, " "), ".!?: ")
}
