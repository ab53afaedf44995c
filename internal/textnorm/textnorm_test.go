package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokens_FoldsCaseAndWidth(t *testing.T) {
	// Fullwidth letters fold to ASCII under NFKC.
	assert.Equal(t, []string{"pushy", "and", "rude"}, Tokens("ＰＵＳＨＹ and Rude!"))
}

func TestCount_MatchesWholeTokens(t *testing.T) {
	toks := Tokens("They respected me. Not disrespected, respected.")
	respected := Compile([]string{"respected"})[0]
	assert.Equal(t, 2, Count(toks, respected))
}

func TestCount_MultiWordPhrase(t *testing.T) {
	toks := Tokens("He wouldn't take no for an answer, and it felt too fast.")
	phrases := Compile([]string{"wouldn't take no", "too fast", "slow"})
	assert.Equal(t, 1, Count(toks, phrases[0]))
	assert.Equal(t, 1, Count(toks, phrases[1]))
	assert.Equal(t, 0, Count(toks, phrases[2]))
	assert.True(t, ContainsAny(toks, phrases))
}

func TestCompile_DropsEmpty(t *testing.T) {
	assert.Len(t, Compile([]string{"", "  ", "ok"}), 1)
}
