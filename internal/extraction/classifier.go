package extraction

import (
	"regexp"
	"strings"
)

// MessageKind is what a message is about, decided without a model call
type MessageKind string

const (
	KindGreeting     MessageKind = "greeting"
	KindThanks       MessageKind = "thanks"
	KindCancellation MessageKind = "cancellation"
	KindQuestion     MessageKind = "question"
	KindData         MessageKind = "data"
)

var (
	greetings = setOf("oi", "ola", "bom dia", "boa tarde", "boa noite",
		"hey", "eae", "e ai", "fala", "salve", "opa")
	thanks = setOf("obrigado", "obrigada", "valeu", "vlw", "thanks",
		"brigado", "brigada", "grato", "grata", "agradeco")
	cancellations = setOf("cancelar", "cancela", "desisto", "para", "parar",
		"nao quero", "deixa pra la", "esquece")
	questionIndicators = []string{"como", "qual", "que", "quem", "onde", "quando",
		"por que", "porque", "quanto", "quantos", "o que", "pra que", "precisa",
		"posso", "pode", "funciona", "faz", "aceita", "serve"}
	questionPairs = setOf("o que", "pra que", "por que", "como que")

	numberRun = regexp.MustCompile(`\d{2,}`)
)

// Classifier routes messages with word lists only
type Classifier struct{}

// Classify decides the kind of text. Any run of two or more digits means
// data, since it is most likely a CNPJ or an amount.
func (Classifier) Classify(text string) MessageKind {
	msg := Fold(text)
	if numberRun.MatchString(msg) {
		return KindData
	}

	clean := normalize(text)
	words := strings.Fields(clean)
	if len(words) == 0 {
		return KindData
	}

	switch {
	case contains(cancellations, clean):
		return KindCancellation
	case isGreeting(clean, words):
		return KindGreeting
	case isThanks(words):
		return KindThanks
	case isQuestion(msg, words):
		return KindQuestion
	}
	return KindData
}

func isGreeting(clean string, words []string) bool {
	if contains(greetings, clean) {
		return true
	}
	// "oi tudo bem", "bom dia pessoal"
	if len(words) <= 4 && contains(greetings, words[0]) {
		return true
	}
	if len(words) >= 2 && len(words) <= 5 && contains(greetings, words[0]+" "+words[1]) {
		return true
	}
	return false
}

func isThanks(words []string) bool {
	for _, w := range words {
		if contains(thanks, w) {
			return true
		}
	}
	return false
}

func isQuestion(msg string, words []string) bool {
	if strings.Contains(msg, "?") {
		return true
	}
	for _, ind := range questionIndicators {
		if strings.HasPrefix(msg, ind+" ") || strings.HasPrefix(msg, ind+",") {
			return true
		}
	}
	return len(words) >= 2 && contains(questionPairs, words[0]+" "+words[1])
}
