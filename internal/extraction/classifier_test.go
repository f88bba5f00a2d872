package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want MessageKind
	}{
		{"Oi", KindGreeting},
		{"bom dia", KindGreeting},
		{"Olá, tudo bem?", KindGreeting},
		{"boa tarde pessoal", KindGreeting},
		{"obrigado!", KindThanks},
		{"valeu pela ajuda", KindThanks},
		{"cancelar", KindCancellation},
		{"Não quero", KindCancellation},
		{"deixa pra lá", KindCancellation},
		{"como funciona?", KindQuestion},
		{"qual o prazo de emissão", KindQuestion},
		{"o que é ISS", KindQuestion},
		{"CNPJ 11222333000181", KindData},
		{"oi, meu cnpj é 11222333000181", KindData},
		{"qual o valor? 1500", KindData},
		{"consultoria em TI", KindData},
		{"", KindData},
	}

	var c Classifier
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.text))
		})
	}
}

func TestConfirmationTokens(t *testing.T) {
	for _, text := range []string{"sim", "Sim!", "SIM", "s", "ok", "confirmo", "pode emitir", "sim, pode emitir"} {
		assert.True(t, IsAffirmative(text), text)
		assert.False(t, IsNegative(text), text)
	}
	for _, text := range []string{"não", "Nao", "N", "cancelar", "não, obrigado", "Não quero mais", "nao pode emitir", "cancela isso"} {
		assert.True(t, IsNegative(text), text)
		assert.False(t, IsAffirmative(text), text)
	}
	for _, text := range []string{"talvez", "simples", "depois eu vejo", "", "não sei", "nao tenho certeza"} {
		assert.False(t, IsAffirmative(text), text)
		assert.False(t, IsNegative(text), text)
	}
}

func TestFold(t *testing.T) {
	assert.Equal(t, "nao", Fold(" Não "))
	assert.Equal(t, "descricao do servico", Fold("Descrição do Serviço"))
}
