package sqlite

import (
	"strings"
	"unicode"
)

// Tokenize 混合语种分词：CJK 逐字符成词，拉丁字母/数字连续段转小写成词。
// 逐字切分让中英混排文本可以在字符粒度上命中重叠。
func Tokenize(text string) []string {
	tokens := make([]string, 0, len(text)/2)
	var word strings.Builder

	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, strings.ToLower(word.String()))
			word.Reset()
		}
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9':
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	return tokens
}

// termFrequencies 统计词频占比（count / doc_length）
func termFrequencies(tokens []string) (map[string]float64, int) {
	docLength := len(tokens)
	if docLength == 0 {
		return nil, 0
	}
	counts := make(map[string]int, docLength)
	for _, t := range tokens {
		counts[t]++
	}
	tf := make(map[string]float64, len(counts))
	for term, count := range counts {
		tf[term] = float64(count) / float64(docLength)
	}
	return tf, docLength
}
