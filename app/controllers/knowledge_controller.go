package controllers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/eatchicken1/frequency-ai-engine/internal/knowledge"
	"github.com/eatchicken1/frequency-ai-engine/internal/logger"
)

// KnowledgeService 控制器依赖的检索引擎能力
type KnowledgeService interface {
	Ingest(ctx context.Context, req knowledge.IngestRequest) (*knowledge.IngestResult, error)
	Search(ctx context.Context, req knowledge.SearchRequest) ([]knowledge.Passage, error)
	Delete(ctx context.Context, req knowledge.DeleteRequest) (*knowledge.DeleteResult, error)
	BatchDelete(ctx context.Context, req knowledge.BatchDeleteRequest) (*knowledge.DeleteResult, error)
	Train(ctx context.Context, req knowledge.TrainRequest) (*knowledge.IngestResult, error)
	Ready() bool
}

// KnowledgeController 知识入库、检索、训练与删除接口
type KnowledgeController struct {
	BaseController
	Service KnowledgeService
}

func (c *KnowledgeController) Prepare() {
	if c.Service == nil {
		c.JSONError(http.StatusServiceUnavailable, "knowledge engine not initialized")
		c.StopRun()
	}
}

// POST /ai/knowledge/ingest
func (c *KnowledgeController) Ingest() {
	var req knowledge.IngestRequest
	if !c.bindJSON(&req) {
		return
	}

	result, err := c.Service.Ingest(c.Ctx.Request.Context(), req)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// POST /ai/knowledge/search
func (c *KnowledgeController) Search() {
	var req knowledge.SearchRequest
	if !c.bindJSON(&req) {
		return
	}

	passages, err := c.Service.Search(c.Ctx.Request.Context(), req)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	if passages == nil {
		passages = []knowledge.Passage{}
	}
	c.JSON(http.StatusOK, map[string]interface{}{
		"results": passages,
		"count":   len(passages),
	})
}

// POST /ai/knowledge/train
func (c *KnowledgeController) Train() {
	var req knowledge.TrainRequest
	if !c.bindJSON(&req) {
		return
	}

	logger.Info("Knowledge train request",
		zap.Int64("knowledge_id", req.KnowledgeID),
		zap.String("echo_id", req.EchoID),
		zap.String("file_type", req.FileType),
		zap.String("ip", c.getClientIP()))

	result, err := c.Service.Train(c.Ctx.Request.Context(), req)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// POST /ai/knowledge/delete
func (c *KnowledgeController) Delete() {
	var req knowledge.DeleteRequest
	if !c.bindJSON(&req) {
		return
	}

	logger.Info("Delete request",
		zap.Int64("knowledge_id", req.KnowledgeID),
		zap.String("echo_id", req.EchoID))

	result, err := c.Service.Delete(c.Ctx.Request.Context(), req)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// POST /ai/knowledge/batch-delete
func (c *KnowledgeController) BatchDelete() {
	var req knowledge.BatchDeleteRequest
	if !c.bindJSON(&req) {
		return
	}

	result, err := c.Service.BatchDelete(c.Ctx.Request.Context(), req)
	if err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSON(http.StatusOK, result)
}
