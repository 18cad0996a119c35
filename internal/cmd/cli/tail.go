package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kode4food/ledger"
	"github.com/kode4food/ledger/bolt"
	"github.com/kode4food/ledger/memory"
	ledgerprom "github.com/kode4food/ledger/prometheus"
)

const tailName = "tail"

// newTailCommand constructs the `tail` subcommand
func newTailCommand(logger *zap.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Replay the global log and follow new events as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			checkpoint, _ := cmd.Flags().GetString("checkpoint")
			limit, _ := cmd.Flags().GetInt("limit")
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			cfg := ledger.DefaultSubscriptionConfig()
			cfg.Logger = logger
			cfg.Name = tailName
			cfg.Interceptors = []ledger.Interceptor[*ledger.Delivery]{
				ledger.LogInterceptor(logger),
			}
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				cfg.Metrics = ledgerprom.NewMetrics(reg)
				stop := serveMetrics(logger, metricsAddr, reg)
				defer stop()
			}

			seen := 0
			consumer := ledger.ConsumerFunc(
				func(ctx context.Context, env *ledger.ReadEnvelope) error {
					if limit > 0 && seen >= limit {
						return context.Canceled
					}
					if err := writeEvent(cmd.OutOrStdout(), env); err != nil {
						return err
					}
					seen++
					if limit > 0 && seen >= limit {
						cancel()
					}
					return nil
				},
			)

			return withStore(cmd, logger, func(s *bolt.Store) error {
				var cp ledger.Checkpointer
				if checkpoint != "" {
					cfg.Name = checkpoint
					cp = ledger.NewCheckpointer(checkpoint, s.Checkpoints())
				} else {
					cp = ledger.NewCheckpointer(tailName,
						memory.NewCheckpointStore(),
					)
				}
				sub := ledger.NewSubscription(s, consumer, cp, cfg)
				err := sub.Run(ctx)
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().String("checkpoint", "",
		"Persist progress under this name and resume from it",
	)
	cmd.Flags().Int("limit", 0, "Stop after N events (0 = follow forever)")
	cmd.Flags().String("metrics-addr", "",
		"Serve Prometheus metrics on this address while tailing",
	)
	return cmd
}

// newCheckpointsCommand constructs the `checkpoints` subcommand
func newCheckpointsCommand(logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoints",
		Short: "List stored subscription checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, logger, func(s *bolt.Store) error {
				all, err := s.Checkpoints().Checkpoints()
				if err != nil {
					return err
				}
				for _, cp := range all {
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n",
						cp.Name, cp.Position,
					)
					if err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func serveMetrics(
	logger *zap.Logger, addr string, reg *prometheus.Registry,
) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server starting", zap.String("addr", addr))
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}
}
