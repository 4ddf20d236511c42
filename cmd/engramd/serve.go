package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/everbrook-ai/engram/chat"
	"github.com/everbrook-ai/engram/config"
	"github.com/everbrook-ai/engram/convstore"
	claude "github.com/everbrook-ai/engram/engine/anthropic"
	"github.com/everbrook-ai/engram/logging"
	"github.com/everbrook-ai/engram/memory"
	"github.com/everbrook-ai/engram/memory/store/chromem"
	"github.com/everbrook-ai/engram/memory/store/qdrant"
	"github.com/everbrook-ai/engram/server"
)

const embedCacheBytes = 64 << 20

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engram server",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return err
		}
		defer logger.Sync()

		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY environment variable is required")
		}

		conversations, err := convstore.New(cfg.Store.HistoryPath, logger)
		if err != nil {
			return err
		}
		defer conversations.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		vectors, err := newVectorStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer vectors.Close()

		embedder, err := newEmbedder(cfg, logger)
		if err != nil {
			return err
		}

		mem, err := memory.New(vectors, embedder, memory.Params{
			TopK:          cfg.Memory.TopK,
			MinSimilarity: cfg.Memory.MinSimilarity,
		}, logger, memory.WithEmbedCache(embedCacheBytes))
		if err != nil {
			return err
		}
		defer mem.Close()

		client := sdk.NewClient(option.WithAPIKey(apiKey))
		eng := claude.New(&client, claude.Config{
			Model:     cfg.Engine.Model,
			MaxTokens: cfg.Engine.MaxTokens,
		})

		var chatOpts []chat.Option
		if cfg.Engine.Persona != "" {
			chatOpts = append(chatOpts, chat.WithPersona(cfg.Engine.Persona))
		}
		orch := chat.New(conversations, mem, eng, logger, chatOpts...)
		defer orch.Close()

		srv, err := server.New(orch, conversations, logger, &server.Config{
			Host: cfg.Server.Host,
			Port: cfg.Server.Port,
		})
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		}
	},
}

func newVectorStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (memory.Store, error) {
	switch cfg.Store.Vector.Backend {
	case "qdrant":
		return qdrant.New(ctx, qdrant.Config{
			Host:       cfg.Store.Vector.QdrantHost,
			Port:       cfg.Store.Vector.QdrantPort,
			Collection: cfg.Store.Vector.QdrantCollection,
			VectorSize: uint64(cfg.Memory.VectorSize),
			UseTLS:     cfg.Store.Vector.QdrantTLS,
		}, logger)
	default:
		if cfg.Store.Vector.Path != "" {
			return chromem.NewPersistent(cfg.Store.Vector.Path, true, logger)
		}
		return chromem.New(logger), nil
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
