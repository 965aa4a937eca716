package knowledge

import (
	"context"
	"fmt"
	"path"

	"go.uber.org/zap"

	apperrors "github.com/eatchicken1/frequency-ai-engine/internal/errors"
)

// ObjectFetcher 从对象存储下载文件
type ObjectFetcher interface {
	Fetch(ctx context.Context, fileURL string) ([]byte, error)
}

// Train 下载文件、解析为文本后复用 Ingest 入库
func (e *Engine) Train(ctx context.Context, req TrainRequest) (*IngestResult, error) {
	if err := e.validate.Struct(req); err != nil {
		return nil, apperrors.FromValidation(err)
	}
	if !e.parsers.Supports(req.FileType) {
		return nil, apperrors.NewInvalidFileFormatError(req.FileType)
	}
	if e.fetcher == nil {
		return nil, apperrors.NewObjectStorageError("object storage not configured", nil)
	}

	raw, err := e.fetcher.Fetch(ctx, req.FileURL)
	if err != nil {
		e.logger.Error("knowledge file download failed",
			zap.Int64("knowledge_id", req.KnowledgeID),
			zap.String("file_url", req.FileURL),
			zap.Error(err))
		if _, ok := apperrors.AsAppError(err); ok {
			return nil, err
		}
		return nil, apperrors.NewObjectStorageError("download knowledge file failed", err)
	}

	content, err := e.parsers.Parse(raw, req.FileType)
	if err != nil {
		if _, ok := apperrors.AsAppError(err); ok {
			return nil, err
		}
		return nil, apperrors.NewValidationError(fmt.Sprintf("parse %s file failed: %v", req.FileType, err))
	}

	sourceName := req.SourceName
	if sourceName == "" {
		sourceName = truncateRunes(path.Base(req.FileURL), MaxSourceNameLength)
	}

	e.logger.Info("knowledge file parsed",
		zap.Int64("knowledge_id", req.KnowledgeID),
		zap.String("echo_id", req.EchoID),
		zap.String("file_type", req.FileType),
		zap.Int("bytes", len(raw)))

	// 文件内容不受单次请求 20000 字符的限制，大小由下载端控制
	if isBlank(content) {
		ingestCounter.WithLabelValues("invalid").Inc()
		return nil, apperrors.NewValidationError("file contains no text")
	}
	return e.ingestValidated(ctx, IngestRequest{
		UserID:     req.UserID,
		EchoID:     req.EchoID,
		Content:    content,
		SourceName: sourceName,
		Metadata: map[string]interface{}{
			MetaKnowledgeID: req.KnowledgeID,
			MetaFileType:    req.FileType,
		},
	})
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
