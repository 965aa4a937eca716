package knowledge

import (
	"context"
	"math"
	"sort"
	"sync"
)

type memoryRecord struct {
	passage Passage
	vector  []float32
}

// MemoryVectorStore 进程内向量存储，用于开发环境和测试
type MemoryVectorStore struct {
	mu       sync.RWMutex
	embedder Embedder
	records  []memoryRecord
}

// NewMemoryVectorStore 创建内存向量存储
func NewMemoryVectorStore(embedder Embedder) *MemoryVectorStore {
	return &MemoryVectorStore{embedder: embedder}
}

func (s *MemoryVectorStore) Name() string { return "memory" }

func (s *MemoryVectorStore) Ready() bool { return true }

func (s *MemoryVectorStore) Init(ctx context.Context) error { return nil }

func (s *MemoryVectorStore) AddPassages(ctx context.Context, passages []Passage) error {
	if len(passages) == 0 {
		return nil
	}
	vectors, err := embedPassages(ctx, s.embedder, passages)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range passages {
		metadata := make(map[string]interface{}, len(p.Metadata))
		for k, v := range p.Metadata {
			metadata[k] = v
		}
		s.records = append(s.records, memoryRecord{
			passage: Passage{Text: p.Text, Metadata: metadata},
			vector:  vectors[i],
		})
	}
	return nil
}

func (s *MemoryVectorStore) SimilaritySearch(ctx context.Context, vector []float32, k int, filter TenantFilter) ([]Passage, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Passage{}, nil
	}

	s.mu.RLock()
	matches := make([]Passage, 0)
	for _, r := range s.records {
		if r.passage.EchoID() != filter.EchoID {
			continue
		}
		p := r.passage
		p.Score = cosineSimilarity(vector, r.vector)
		matches = append(matches, p)
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *MemoryVectorStore) DeleteByPredicate(ctx context.Context, predicate DeletePredicate) (int64, error) {
	if predicate.Empty() {
		return 0, nil
	}
	ids := make(map[int64]struct{}, len(predicate.KnowledgeIDs))
	for _, id := range predicate.KnowledgeIDs {
		ids[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var deleted int64
	for _, r := range s.records {
		id, ok := r.passage.KnowledgeID()
		_, hit := ids[id]
		if ok && hit && (predicate.EchoID == "" || r.passage.EchoID() == predicate.EchoID) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return deleted, nil
}

// Count 当前记录数
func (s *MemoryVectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
