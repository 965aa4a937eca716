package knowledge

import (
	"strings"
	"unicode"

	apperrors "github.com/eatchicken1/frequency-ai-engine/internal/errors"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 100
)

// DefaultSeparators 分隔符优先级：段落、换行、句末标点、空格、单字符
var DefaultSeparators = []string{"\n\n", "\n", "。", "！", "？", ". ", "! ", "? ", " ", ""}

// Chunk 表示分块后的文本结构，Start/End 为原文中的字符(rune)偏移
type Chunk struct {
	Index int
	Text  string
	Start int
	End   int
}

// Chunker 递归分隔符文本分块器
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	separators   [][]rune
}

type span struct {
	start, end int
}

func (s span) len() int { return s.end - s.start }

// NewChunker 创建分块器，separators 为空时使用默认优先级
func NewChunker(chunkSize, overlap int, separators []string) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	if len(separators) == 0 {
		separators = DefaultSeparators
	}

	seps := make([][]rune, 0, len(separators)+1)
	hasCharBoundary := false
	for _, sep := range separators {
		if sep == "" {
			hasCharBoundary = true
		}
		seps = append(seps, []rune(sep))
	}
	// 保证最终可以按单字符切分
	if !hasCharBoundary {
		seps = append(seps, nil)
	}

	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: overlap,
		separators:   seps,
	}
}

// Split 将文本切分为多个chunk，每个chunk都是原文的连续子串。
// 纯空白的合并片段不产生chunk，除此之外原文的每个字符都至少出现在一个chunk中。
func (c *Chunker) Split(text string) []Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	pieces := c.splitSpan(runes, span{0, len(runes)}, c.separators)
	merged := c.merge(pieces)

	chunks := make([]Chunk, 0, len(merged))
	for _, s := range merged {
		chunkText := string(runes[s.start:s.end])
		if isBlank(chunkText) {
			continue
		}
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  chunkText,
			Start: s.start,
			End:   s.end,
		})
	}
	return chunks
}

// SplitForIngest 切分文本，结果为空时返回 EmptyContent
func (c *Chunker) SplitForIngest(text string) ([]Chunk, error) {
	chunks := c.Split(text)
	if len(chunks) == 0 {
		return nil, apperrors.NewEmptyContentError()
	}
	return chunks, nil
}

// splitSpan 按第一个出现的分隔符切分，超长片段使用后续分隔符继续切分
func (c *Chunker) splitSpan(runes []rune, s span, seps [][]rune) []span {
	if s.len() <= c.chunkSize {
		return []span{s}
	}

	idx := len(seps) - 1
	for i, sep := range seps {
		if len(sep) == 0 || indexRunes(runes[s.start:s.end], sep) >= 0 {
			idx = i
			break
		}
	}
	sep, rest := seps[idx], seps[idx+1:]

	var out []span
	for _, piece := range cutAfter(runes, s, sep) {
		if piece.len() <= c.chunkSize || len(rest) == 0 {
			out = append(out, piece)
			continue
		}
		out = append(out, c.splitSpan(runes, piece, rest)...)
	}
	return out
}

// merge 贪心合并相邻片段，保留不超过 chunkOverlap 的尾部片段作为重叠
func (c *Chunker) merge(pieces []span) []span {
	var (
		out     []span
		current []span
		total   int
	)
	for _, p := range pieces {
		l := p.len()
		if total+l > c.chunkSize && len(current) > 0 {
			out = append(out, span{current[0].start, current[len(current)-1].end})
			for len(current) > 0 && (total > c.chunkOverlap || total+l > c.chunkSize) {
				total -= current[0].len()
				current = current[1:]
			}
		}
		current = append(current, p)
		total += l
	}
	if len(current) > 0 {
		out = append(out, span{current[0].start, current[len(current)-1].end})
	}
	return out
}

// cutAfter 在分隔符之后切开，分隔符归属前一片段；空分隔符按单字符切分
func cutAfter(runes []rune, s span, sep []rune) []span {
	if len(sep) == 0 {
		out := make([]span, 0, s.len())
		for i := s.start; i < s.end; i++ {
			out = append(out, span{i, i + 1})
		}
		return out
	}

	var out []span
	start := s.start
	for start < s.end {
		i := indexRunes(runes[start:s.end], sep)
		if i < 0 {
			break
		}
		end := start + i + len(sep)
		out = append(out, span{start, end})
		start = end
	}
	if start < s.end {
		out = append(out, span{start, s.end})
	}
	return out
}

func indexRunes(haystack, needle []rune) int {
	n := len(needle)
	if n == 0 {
		return 0
	}
outer:
	for i := 0; i+n <= len(haystack); i++ {
		for j := 0; j < n; j++ {
			if haystack[i+j] != needle[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

func isBlank(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return !unicode.IsSpace(r) }) < 0
}
