package knowledge

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/eatchicken1/frequency-ai-engine/internal/errors"
)

// recordingStore 包装内存存储，记录写入次数并可注入错误
type recordingStore struct {
	*MemoryVectorStore
	mu        sync.Mutex
	addCalls  int
	addErr    error
	searchErr error
	deleteErr error
	lastPred  DeletePredicate
}

func newRecordingStore(embedder Embedder) *recordingStore {
	return &recordingStore{MemoryVectorStore: NewMemoryVectorStore(embedder)}
}

func (s *recordingStore) AddPassages(ctx context.Context, passages []Passage) error {
	s.mu.Lock()
	s.addCalls++
	err := s.addErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.MemoryVectorStore.AddPassages(ctx, passages)
}

func (s *recordingStore) SimilaritySearch(ctx context.Context, vector []float32, k int, filter TenantFilter) ([]Passage, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.MemoryVectorStore.SimilaritySearch(ctx, vector, k, filter)
}

func (s *recordingStore) DeleteByPredicate(ctx context.Context, predicate DeletePredicate) (int64, error) {
	s.lastPred = predicate
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	return s.MemoryVectorStore.DeleteByPredicate(ctx, predicate)
}

func (s *recordingStore) adds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addCalls
}

// MockPublisher 事件发布 mock
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type fakeFetcher struct {
	content map[string][]byte
	err     error
}

func (f *fakeFetcher) Fetch(ctx context.Context, fileURL string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.content[fileURL]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

type engineFixture struct {
	engine   *Engine
	store    *recordingStore
	embedder *fakeEmbedder
	ledger   *MemoryLedger
	fetcher  *fakeFetcher
}

func newEngineFixture() *engineFixture {
	embedder := newFakeEmbedder()
	store := newRecordingStore(embedder)
	ledger := NewMemoryLedger(time.Hour)
	fetcher := &fakeFetcher{content: map[string][]byte{}}
	engine := NewEngine(EngineOptions{
		Store:    store,
		Embedder: embedder,
		Ledger:   ledger,
		Fetcher:  fetcher,
	})
	return &engineFixture{engine: engine, store: store, embedder: embedder, ledger: ledger, fetcher: fetcher}
}

func ingestReq(echoID, content string) IngestRequest {
	return IngestRequest{UserID: "user1", EchoID: echoID, Content: content, SourceName: "notes.txt"}
}

func TestEngine_IngestDedupSearchScenario(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	result, err := f.engine.Ingest(ctx, ingestReq("agent1", "The sky is blue."))
	require.NoError(t, err)
	assert.Equal(t, &IngestResult{Status: StatusSuccess, Chunks: 1}, result)

	result, err = f.engine.Ingest(ctx, ingestReq("agent1", "The sky is blue."))
	require.NoError(t, err)
	assert.Equal(t, &IngestResult{Status: StatusDuplicate, Chunks: 0}, result)
	assert.Equal(t, 1, f.store.adds(), "duplicate must not reach the store")
	assert.Equal(t, 1, f.store.Count())

	passages, err := f.engine.Search(ctx, SearchRequest{Query: "sky color", EchoID: "agent1"})
	require.NoError(t, err)
	require.NotEmpty(t, passages)
	assert.Equal(t, "The sky is blue.", passages[0].Text)
	assert.Equal(t, "agent1", passages[0].EchoID())

	passages, err = f.engine.Search(ctx, SearchRequest{Query: "sky color", EchoID: "agent2"})
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestEngine_IngestTrimsBeforeHashing(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	_, err := f.engine.Ingest(ctx, ingestReq("agent1", "  hello world \n"))
	require.NoError(t, err)

	result, err := f.engine.Ingest(ctx, ingestReq("agent1", "hello world"))
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, result.Status)
}

func TestEngine_SameContentDifferentAgents(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	for _, echo := range []string{"agent1", "agent2"} {
		result, err := f.engine.Ingest(ctx, ingestReq(echo, "shared fact"))
		require.NoError(t, err)
		assert.Equal(t, StatusSuccess, result.Status)
	}
	assert.Equal(t, 2, f.store.Count())
}

func TestEngine_BlankContentLeavesNoMarkAndNoWrite(t *testing.T) {
	f := newEngineFixture()

	for _, content := range []string{"", "   ", "\n\t "} {
		_, err := f.engine.Ingest(context.Background(), ingestReq("agent1", content))
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed), "content %q", content)
	}
	assert.Equal(t, 0, f.ledger.Len())
	assert.Equal(t, 0, f.store.adds())
	assert.Equal(t, int32(0), f.embedder.docCalls)
}

func TestEngine_IngestValidation(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	cases := map[string]IngestRequest{
		"missing echo":      {UserID: "u", Content: "x", SourceName: "s"},
		"missing user":      {EchoID: "e", Content: "x", SourceName: "s"},
		"missing source":    {UserID: "u", EchoID: "e", Content: "x"},
		"source too long":   {UserID: "u", EchoID: "e", Content: "x", SourceName: strings.Repeat("s", 201)},
		"content too long":  {UserID: "u", EchoID: "e", Content: strings.Repeat("x", 20001), SourceName: "s"},
		"metadata too long": {UserID: "u", EchoID: "e", Content: "x", SourceName: "s", Metadata: map[string]interface{}{"k": strings.Repeat("v", 2048)}},
	}
	for name, req := range cases {
		_, err := f.engine.Ingest(ctx, req)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed), name)
	}
	assert.Equal(t, 0, f.ledger.Len())
}

func TestEngine_ContentLengthCountsCharacters(t *testing.T) {
	f := newEngineFixture()

	// 20000 个中文字符超过 20000 字节但未超过字符上限
	result, err := f.engine.Ingest(context.Background(), ingestReq("agent1", strings.Repeat("知", 20000)))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Greater(t, result.Chunks, 1)
}

func TestEngine_PassageMetadata(t *testing.T) {
	f := newEngineFixture()
	req := ingestReq("agent1", strings.Repeat("word ", 300))
	req.Metadata = map[string]interface{}{
		"knowledge_id": int64(42),
		"echo_id":      "spoofed",
		"topic":        "weather",
	}

	result, err := f.engine.Ingest(context.Background(), req)
	require.NoError(t, err)
	require.Greater(t, result.Chunks, 1)

	passages, err := f.store.MemoryVectorStore.SimilaritySearch(context.Background(), bagOfWords("word"), 20, TenantFilter{EchoID: "agent1"})
	require.NoError(t, err)
	require.Len(t, passages, result.Chunks)

	hash := ContentHash(strings.TrimSpace(req.Content))
	indexes := map[interface{}]bool{}
	for _, p := range passages {
		assert.Equal(t, "agent1", p.Metadata[MetaEchoID], "tenant fields override caller metadata")
		assert.Equal(t, "user1", p.Metadata[MetaUserID])
		assert.Equal(t, "notes.txt", p.Metadata[MetaSourceName])
		assert.Equal(t, hash, p.Metadata[MetaContentHash])
		assert.Equal(t, "weather", p.Metadata["topic"])
		assert.Equal(t, int64(42), p.Metadata[MetaKnowledgeID])
		indexes[p.Metadata[MetaChunkIndex]] = true
	}
	assert.Len(t, indexes, result.Chunks)
}

func TestEngine_StoreFailureKeepsDedupMark(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	f.store.addErr = apperrors.NewStoreWriteError("memory", errors.New("disk full"))

	_, err := f.engine.Ingest(ctx, ingestReq("agent1", "fragile"))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeStoreWrite))

	// 标记不回滚，重试在 TTL 内被视为重复
	f.store.addErr = nil
	result, err := f.engine.Ingest(ctx, ingestReq("agent1", "fragile"))
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, result.Status)
}

func TestEngine_PlainStoreErrorIsWrapped(t *testing.T) {
	f := newEngineFixture()
	f.store.addErr = errors.New("boom")

	_, err := f.engine.Ingest(context.Background(), ingestReq("agent1", "content"))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeStoreWrite))
}

func TestEngine_EmbeddingFailureAbortsIngest(t *testing.T) {
	f := newEngineFixture()
	f.embedder.fail(apperrors.NewEmbeddingBackendError("Throttling", "rate limited"))

	_, err := f.engine.Ingest(context.Background(), ingestReq("agent1", "content"))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeEmbeddingBackend))
	assert.Equal(t, 0, f.store.Count())
}

func TestEngine_ConcurrentIdenticalIngest(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	results := make([]*IngestResult, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := f.engine.Ingest(ctx, ingestReq("agent1", "racing content"))
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	statuses := []string{results[0].Status, results[1].Status}
	assert.ElementsMatch(t, []string{StatusSuccess, StatusDuplicate}, statuses)
	assert.Equal(t, 1, f.store.adds())
}

func TestEngine_SearchDegradesOnBackendError(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	_, err := f.engine.Ingest(ctx, ingestReq("agent1", "The sky is blue."))
	require.NoError(t, err)

	f.store.searchErr = errors.New("connection reset")
	passages, err := f.engine.Search(ctx, SearchRequest{Query: "sky", EchoID: "agent1"})
	require.NoError(t, err)
	assert.Empty(t, passages)

	f.store.searchErr = nil
	f.embedder.fail(apperrors.NewEmbeddingBackendError("InternalError", "oops"))
	passages, err = f.engine.Search(ctx, SearchRequest{Query: "sky", EchoID: "agent1"})
	require.NoError(t, err)
	assert.Empty(t, passages)
}

func TestEngine_SearchRequiresTenant(t *testing.T) {
	f := newEngineFixture()

	_, err := f.engine.Search(context.Background(), SearchRequest{Query: "sky"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))
}

func TestEngine_SearchLimit(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		_, err := f.engine.Ingest(ctx, ingestReq("agent1", strings.Repeat("fact ", i+1)))
		require.NoError(t, err)
	}

	passages, _ := f.engine.Search(ctx, SearchRequest{Query: "fact", EchoID: "agent1"})
	assert.Len(t, passages, DefaultSearchLimit)

	passages, _ = f.engine.Search(ctx, SearchRequest{Query: "fact", EchoID: "agent1", Limit: 100})
	assert.Len(t, passages, MaxSearchLimit)

	passages, _ = f.engine.Search(ctx, SearchRequest{Query: "fact", EchoID: "agent1", Limit: 5})
	assert.Len(t, passages, 5)
}

func TestEngine_DeleteIsScopedToEcho(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	for _, echo := range []string{"X", "Y"} {
		req := ingestReq(echo, "knowledge forty two")
		req.Metadata = map[string]interface{}{MetaKnowledgeID: int64(42)}
		_, err := f.engine.Ingest(ctx, req)
		require.NoError(t, err)
	}

	result, err := f.engine.Delete(ctx, DeleteRequest{KnowledgeID: 42, EchoID: "X", UserID: "user1"})
	require.NoError(t, err)
	assert.Equal(t, &DeleteResult{Status: StatusSuccess, Deleted: 1}, result)
	assert.Equal(t, DeletePredicate{KnowledgeIDs: []int64{42}, EchoID: "X"}, f.store.lastPred)

	remaining, _ := f.engine.Search(ctx, SearchRequest{Query: "knowledge", EchoID: "Y"})
	require.Len(t, remaining, 1)
	gone, _ := f.engine.Search(ctx, SearchRequest{Query: "knowledge", EchoID: "X"})
	assert.Empty(t, gone)
}

func TestEngine_BatchDeleteMatchesOnlyKnowledgeID(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	for i, echo := range []string{"X", "Y", "Z"} {
		req := ingestReq(echo, "batch item")
		req.Metadata = map[string]interface{}{MetaKnowledgeID: int64(7 + i%2)}
		_, err := f.engine.Ingest(ctx, req)
		require.NoError(t, err)
	}

	result, err := f.engine.BatchDelete(ctx, BatchDeleteRequest{Items: []DeleteRequest{
		{KnowledgeID: 7, EchoID: "X"},
		{KnowledgeID: 7, EchoID: "Z"},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Deleted)
	assert.Equal(t, DeletePredicate{KnowledgeIDs: []int64{7}}, f.store.lastPred)
	assert.Equal(t, 1, f.store.Count())
}

func TestEngine_EmptyBatchDeleteIsNoop(t *testing.T) {
	f := newEngineFixture()
	f.store.deleteErr = errors.New("must not be called")

	result, err := f.engine.BatchDelete(context.Background(), BatchDeleteRequest{})
	require.NoError(t, err)
	assert.Equal(t, &DeleteResult{Status: StatusSuccess, Deleted: 0}, result)
}

func TestEngine_DeleteFailurePropagates(t *testing.T) {
	f := newEngineFixture()
	f.store.deleteErr = errors.New("backend down")

	_, err := f.engine.Delete(context.Background(), DeleteRequest{KnowledgeID: 1, EchoID: "X"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeStoreDelete))

	_, err = f.engine.BatchDelete(context.Background(), BatchDeleteRequest{Items: []DeleteRequest{{KnowledgeID: 1, EchoID: "X"}}})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeStoreDelete))
}

func TestEngine_PublishesEvents(t *testing.T) {
	embedder := newFakeEmbedder()
	publisher := new(MockPublisher)
	engine := NewEngine(EngineOptions{
		Store:     NewMemoryVectorStore(embedder),
		Embedder:  embedder,
		Publisher: publisher,
	})

	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e Event) bool {
		return e.Type == EventIngested && e.EchoID == "agent1" && e.Chunks == 1
	})).Return(errors.New("broker unavailable")).Once()
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e Event) bool {
		return e.Type == EventDeleted && e.EchoID == "agent1" && len(e.KnowledgeIDs) == 1
	})).Return(nil).Once()

	// 发布失败不影响结果
	result, err := engine.Ingest(context.Background(), ingestReq("agent1", "event content"))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)

	_, err = engine.Delete(context.Background(), DeleteRequest{KnowledgeID: 3, EchoID: "agent1"})
	require.NoError(t, err)

	publisher.AssertExpectations(t)
}

func TestEngine_Train(t *testing.T) {
	f := newEngineFixture()
	f.fetcher.content["knowledge/2026-01-01/notes.md"] = []byte("# Notes\n\nThe sky is blue.")

	result, err := f.engine.Train(context.Background(), TrainRequest{
		KnowledgeID: 11,
		UserID:      "user1",
		EchoID:      "agent1",
		FileURL:     "knowledge/2026-01-01/notes.md",
		FileType:    "md",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)

	passages, _ := f.engine.Search(context.Background(), SearchRequest{Query: "sky", EchoID: "agent1"})
	require.Len(t, passages, 1)
	assert.Equal(t, int64(11), passages[0].Metadata[MetaKnowledgeID])
	assert.Equal(t, "md", passages[0].Metadata[MetaFileType])
	assert.Equal(t, "notes.md", passages[0].Metadata[MetaSourceName])
}

func TestEngine_TrainCapsDefaultSourceName(t *testing.T) {
	f := newEngineFixture()
	name := strings.Repeat("知", 300) + ".txt"
	f.fetcher.content["knowledge/"+name] = []byte("The sky is blue.")

	_, err := f.engine.Train(context.Background(), TrainRequest{
		KnowledgeID: 12,
		UserID:      "user1",
		EchoID:      "agent1",
		FileURL:     "knowledge/" + name,
		FileType:    "txt",
	})
	require.NoError(t, err)

	passages, _ := f.engine.Search(context.Background(), SearchRequest{Query: "sky", EchoID: "agent1"})
	require.Len(t, passages, 1)
	assert.Equal(t, strings.Repeat("知", MaxSourceNameLength), passages[0].Metadata[MetaSourceName])
}

func TestEngine_TrainRejectsLongSourceName(t *testing.T) {
	f := newEngineFixture()

	_, err := f.engine.Train(context.Background(), TrainRequest{
		KnowledgeID: 13,
		UserID:      "user1",
		EchoID:      "agent1",
		FileURL:     "knowledge/a.txt",
		FileType:    "txt",
		SourceName:  strings.Repeat("名", MaxSourceNameLength+1),
	})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))
}

func TestEngine_TrainErrors(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	base := TrainRequest{KnowledgeID: 1, UserID: "u", EchoID: "e", FileURL: "a.bin", FileType: "bin"}

	_, err := f.engine.Train(ctx, base)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidFileFormat))

	base.FileType = "txt"
	_, err = f.engine.Train(ctx, base)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeObjectStorage))

	f.fetcher.content["blank.txt"] = []byte("   \n")
	base.FileURL = "blank.txt"
	_, err = f.engine.Train(ctx, base)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))
	assert.Equal(t, 0, f.ledger.Len())
}
