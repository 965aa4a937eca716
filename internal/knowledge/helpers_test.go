package knowledge

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"
)

const fakeDims = 16

// fakeEmbedder 按词哈希生成向量，相同词汇的文本彼此相近
type fakeEmbedder struct {
	mu        sync.Mutex
	err       error
	docCalls  int32
	lastBatch []string
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{}
}

func (f *fakeEmbedder) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeEmbedder) currentErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	atomic.AddInt32(&f.docCalls, 1)
	if err := f.currentErr(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.lastBatch = append([]string(nil), texts...)
	f.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = bagOfWords(t)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := f.currentErr(); err != nil {
		return nil, err
	}
	return bagOfWords(text), nil
}

func (f *fakeEmbedder) Dimensions() int { return fakeDims }

func (f *fakeEmbedder) Ready() bool { return true }

func bagOfWords(text string) []float32 {
	v := make([]float32, fakeDims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%fakeDims]++
	}
	return v
}
