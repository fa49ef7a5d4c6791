// cmd/food-log/serve.go
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mcp-food-log/internal/analysis"
	"mcp-food-log/internal/auth"
	"mcp-food-log/internal/llm"
	"mcp-food-log/internal/metrics"
	"mcp-food-log/internal/server"
	"mcp-food-log/internal/storage"
	"mcp-food-log/internal/sweep"
)

func newServeCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the media retention sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := cc.ensure()
			if err != nil {
				return err
			}
			if err := cfg.RequireModel(); err != nil {
				return err
			}
			if err := cfg.RequireAuth(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer storage.Close(db)

			store, closeStore, err := openJobStore(cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			blobs, err := openBlobStore(ctx, cfg)
			if err != nil {
				return err
			}

			gen, err := llm.NewOpenAIGenerator(cfg.Model.APIKey, cfg.Model.BaseURL)
			if err != nil {
				return err
			}
			whisper := llm.NewWhisperClient(cfg.Model.BaseURL, cfg.Model.APIKey, cfg.Model.TranscriptionModel, cfg.Model.Timeout)
			adapter := llm.NewAdapter(gen, whisper, llm.Config{
				VisionModel: cfg.Model.VisionModel,
				TextModel:   cfg.Model.TextModel,
				MaxTokens:   cfg.Model.MaxTokens,
			})

			m := metrics.New()
			svc := analysis.New(adapter, store, blobs,
				analysis.WithLogger(logger),
				analysis.WithMetrics(m),
				analysis.WithTimeout(cfg.Model.Timeout),
			)

			sweeper := sweep.New(store, blobs, cfg.Retention.Window,
				sweep.WithLogger(logger),
				sweep.WithMetrics(m),
				sweep.WithPendingGrace(analysis.MaxRuntime(cfg.Model.Timeout)),
			)
			go sweeper.Start(ctx, cfg.Retention.Interval)

			issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
			if err != nil {
				return err
			}

			srv := server.NewFoodLogServer(server.Config{
				Addr:             cfg.Server.Addr,
				ReadTimeout:      cfg.Server.ReadTimeout,
				WriteTimeout:     cfg.Server.WriteTimeout,
				ShutdownTimeout:  cfg.Server.ShutdownTimeout,
				MaxUploadBytes:   cfg.Server.MaxUploadBytes,
				AnalyzePerMinute: cfg.Server.AnalyzeRate,
				AnalyzeBurst:     cfg.Server.AnalyzeBurst,
			}, svc, storage.NewMealStore(db, logger), issuer, logger)

			logger.Info("food log service starting",
				zap.String("version", version),
				zap.String("database", cfg.Database.Driver),
				zap.String("media", cfg.Media.Backend),
				zap.Bool("redis", cfg.Redis.Enabled),
			)
			if err := srv.Start(ctx); err != nil {
				return err
			}
			logger.Info("food log service stopped")
			return nil
		},
	}
}
