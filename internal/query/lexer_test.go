package query

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func tokens(t *testing.T, input string) []Token {
	t.Helper()
	lex := NewLexer(input)
	var out []Token
	for {
		tok, err := lex.Next()
		require.NoError(t, err)
		if tok.Kind == TokEOF {
			return out
		}
		out = append(out, tok)
	}
}

func TestLexer_Keywords(t *testing.T) {
	toks := tokens(t, "select FROM where")
	require.Equal(t, []Token{
		{Kind: TokKeyword, Text: "SELECT"},
		{Kind: TokKeyword, Text: "FROM"},
		{Kind: TokKeyword, Text: "WHERE"},
	}, toks)
}

func TestLexer_FunctionsAndMeta(t *testing.T) {
	toks := tokens(t, "avg(value) .databases now()")
	require.Equal(t, TokFunc, toks[0].Kind)
	require.Equal(t, "avg", toks[0].Text)
	require.Equal(t, TokMeta, toks[4].Kind)
	require.Equal(t, ".databases", toks[4].Text)
	require.Equal(t, TokFunc, toks[5].Kind)
	require.Equal(t, "now", toks[5].Text)
}

func TestLexer_NumberAndTimespan(t *testing.T) {
	toks := tokens(t, "42 3.5 250ms 7d")
	require.Equal(t, TokNumber, toks[0].Kind)
	require.Equal(t, "42", toks[0].Text)
	require.Equal(t, TokNumber, toks[1].Kind)
	require.Equal(t, "3.5", toks[1].Text)
	require.Equal(t, TokTimespan, toks[2].Kind)
	require.Equal(t, "250ms", toks[2].Text)
	require.Equal(t, TokTimespan, toks[3].Kind)
	require.Equal(t, "7d", toks[3].Text)
}

func TestLexer_StringAndOperators(t *testing.T) {
	toks := tokens(t, "'2026-01-01 00:00:00' >= != == <")
	require.Equal(t, TokString, toks[0].Kind)
	require.Equal(t, "2026-01-01 00:00:00", toks[0].Text)
	require.Equal(t, ">=", toks[1].Text)
	require.Equal(t, "!=", toks[2].Text)
	require.Equal(t, "==", toks[3].Text)
	require.Equal(t, "<", toks[4].Text)
}

func TestLexer_UnknownCharacter(t *testing.T) {
	lex := NewLexer("@")
	_, err := lex.Next()
	require.Error(t, err)
}
