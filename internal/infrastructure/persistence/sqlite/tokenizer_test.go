package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeChineseSingleChars(t *testing.T) {
	assert.Equal(t, []string{"萧", "炎", "修", "炼"}, Tokenize("萧炎修炼"))
}

func TestTokenizeLatinRunsLowercased(t *testing.T) {
	assert.Equal(t, []string{"dou", "qi", "level9"}, Tokenize("Dou Qi, Level9!"))
}

func TestTokenizeMixedScript(t *testing.T) {
	assert.Equal(t, []string{"第", "3", "章", "萧", "炎"}, Tokenize("第3章：萧炎"))
}

func TestTokenizePunctuationOnly(t *testing.T) {
	assert.Empty(t, Tokenize("。，！？…—"))
	assert.Empty(t, Tokenize(""))
}

func TestTermFrequencies(t *testing.T) {
	tf, docLength := termFrequencies([]string{"萧", "炎", "萧"})

	assert.Equal(t, 3, docLength)
	assert.InDelta(t, 2.0/3.0, tf["萧"], 1e-9)
	assert.InDelta(t, 1.0/3.0, tf["炎"], 1e-9)
}

func TestTermFrequenciesEmpty(t *testing.T) {
	tf, docLength := termFrequencies(nil)
	assert.Zero(t, docLength)
	assert.Nil(t, tf)
}
