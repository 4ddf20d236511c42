//go:build !onnx

package main

import (
	"go.uber.org/zap"

	"github.com/everbrook-ai/engram/config"
	"github.com/everbrook-ai/engram/memory"
	"github.com/everbrook-ai/engram/memory/embedder/mock"
)

// newEmbedder returns the deterministic hash embedder. Builds tagged onnx
// replace this with the all-MiniLM-L6-v2 session.
func newEmbedder(cfg *config.Config, logger *zap.Logger) (memory.Embedder, error) {
	logger.Warn("using hash embedder; build with -tags onnx for semantic recall")
	return mock.NewWithDimensions(cfg.Memory.VectorSize), nil
}
