//go:build onnx

package main

import (
	"go.uber.org/zap"

	"github.com/everbrook-ai/engram/config"
	"github.com/everbrook-ai/engram/memory"
	"github.com/everbrook-ai/engram/memory/embedder/onnx"
)

func newEmbedder(cfg *config.Config, logger *zap.Logger) (memory.Embedder, error) {
	return onnx.New(onnx.Config{
		ModelPath:         cfg.Memory.Embedder.ModelPath,
		TokenizerPath:     cfg.Memory.Embedder.TokenizerPath,
		SharedLibraryPath: cfg.Memory.Embedder.SharedLibraryPath,
		Dimensions:        cfg.Memory.VectorSize,
	}, logger)
}
