// membankd runs the long-term memory engine: the background maintenance
// scheduler, the Prometheus metrics endpoint, and a one-shot maintenance
// mode for operational use.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crewforge/membank/internal/config"
	"github.com/crewforge/membank/internal/embeddings"
	"github.com/crewforge/membank/internal/llm"
	"github.com/crewforge/membank/internal/logging"
	"github.com/crewforge/membank/internal/membank"
	"github.com/crewforge/membank/internal/vectorstore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "membankd",
		Short:         "Long-term memory engine for conversational agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newMaintainCmd())
	return root
}

type runtime struct {
	cfg     *config.Config
	logger  *zap.Logger
	index   vectorstore.Index
	manager *membank.Manager
}

// buildRuntime wires config, logging, the index backend, the embedding
// provider and the completion client into a manager.
func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	var index vectorstore.Index
	switch cfg.Index.Provider {
	case config.ProviderQdrant:
		index, err = vectorstore.NewQdrantIndex(ctx, vectorstore.QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.UseTLS,
			VectorSize: cfg.Index.VectorSize,
		}, logger)
	default:
		index, err = vectorstore.NewChromemIndex(vectorstore.ChromemConfig{
			Path: cfg.Index.Path,
		}, logger)
	}
	if err != nil {
		return nil, err
	}

	var embedder embeddings.Provider
	if cfg.Embeddings.APIKey == "" {
		logger.Warn("no embeddings api key configured, using deterministic local embeddings")
		embedder = &embeddings.MockProvider{Dim: cfg.Index.VectorSize}
	} else {
		embedder, err = embeddings.NewOpenAIProvider(embeddings.OpenAIConfig{
			BaseURL: cfg.Embeddings.BaseURL,
			APIKey:  cfg.Embeddings.APIKey,
			Model:   cfg.Embeddings.Model,
		}, logger)
		if err != nil {
			return nil, err
		}
	}

	var completer llm.Completer
	if cfg.LLM.APIKey == "" {
		logger.Warn("no llm api key configured, extraction falls back to patterns")
	} else {
		completer, err = llm.NewAnthropicCompleter(llm.AnthropicConfig{
			APIKey: cfg.LLM.APIKey,
			Model:  cfg.LLM.Model,
		}, logger)
		if err != nil {
			return nil, err
		}
	}

	manager, err := membank.NewManager(index, embedder, completer, logger, membank.ManagerConfig{
		ContextTokens: cfg.Engine.ContextTokens,
	})
	if err != nil {
		return nil, err
	}

	return &runtime{cfg: cfg, logger: logger, index: index, manager: manager}, nil
}

func (r *runtime) close() {
	r.manager.Close()
	if err := r.index.Close(); err != nil {
		r.logger.Warn("closing index", zap.Error(err))
	}
	_ = r.logger.Sync()
}

func newServeCmd() *cobra.Command {
	var (
		metricsAddr string
		projects    []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the maintenance scheduler and metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			scheduler := membank.NewScheduler(rt.manager, rt.logger)
			for _, project := range projects {
				scheduler.Register(project)
			}
			if err := scheduler.Start(); err != nil {
				return err
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			})
			server := &http.Server{Addr: metricsAddr, Handler: mux}

			errCh := make(chan error, 1)
			go func() {
				rt.logger.Info("metrics endpoint listening", zap.String("addr", metricsAddr))
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-stop:
				rt.logger.Info("shutting down", zap.String("signal", sig.String()))
			case err := <-errCh:
				rt.logger.Error("metrics server failed", zap.Error(err))
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Engine.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				rt.logger.Warn("metrics server shutdown", zap.Error(err))
			}
			return scheduler.Stop()
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9180", "metrics and health listen address")
	cmd.Flags().StringSliceVar(&projects, "project", nil, "project id to sweep (repeatable)")
	return cmd
}

func newMaintainCmd() *cobra.Command {
	var (
		project string
		task    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run one maintenance sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if project == "" {
				return fmt.Errorf("--project is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			rt, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.close()

			scheduler := membank.NewScheduler(rt.manager, rt.logger)
			scheduler.Register(project)
			if err := scheduler.RunNow(ctx, membank.MaintenanceTask(task)); err != nil {
				return err
			}

			stats, err := rt.manager.Stats(ctx, project)
			if err != nil {
				return err
			}
			rt.logger.Info("maintenance complete",
				zap.String("project", project),
				zap.String("task", task),
				zap.Int("total", stats.Total),
				zap.Int("core", stats.ByTier[membank.TierCore]),
				zap.Int("relevant", stats.ByTier[membank.TierRelevant]),
				zap.Int("cold", stats.ByTier[membank.TierCold]),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project id to maintain")
	cmd.Flags().StringVar(&task, "task", string(membank.TaskFull), "task: decay, tier, health, cleanup, full")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall timeout")
	return cmd
}
