// Package serve implements the "serve" CLI subcommand (spec 4.G): runs
// the HTTP surface until interrupted.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skitsanos/ironflow/internal/commands/cliutil"
	"github.com/skitsanos/ironflow/internal/config"
	"github.com/skitsanos/ironflow/internal/engine"
	"github.com/skitsanos/ironflow/internal/httpapi"
)

// NewCommand builds the "serve" subcommand.
func NewCommand() *cobra.Command {
	var host string
	var port int
	var storeDir string
	var flowsDir string
	var maxBody int64
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := config.Server{
				Host:     host,
				Port:     port,
				StoreDir: storeDir,
				FlowsDir: flowsDir,
				MaxBody:  maxBody,
			}
			resolved := config.Resolve(flags, configFile)

			logger := cliutil.DefaultLogger(false)
			reg := cliutil.DefaultRegistry(logger)
			st := cliutil.OpenStore(resolved.StoreDir)
			eng := engine.New(reg, st, logger, resolved.MaxConcurrentTasks)

			srv := httpapi.New(eng, reg, st, resolved.FlowsDir, resolved.MaxBody, resolved.Webhooks, logger)

			addr := fmt.Sprintf("%s:%d", resolved.Host, resolved.Port)
			httpServer := &http.Server{Addr: addr, Handler: srv.Handler()}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("starting http server", "addr", addr)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("serve: %w", err)
				}
				return nil
			case <-ctx.Done():
				logger.Info("shutting down http server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "bind host (overrides env/config/default)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "bind port (overrides env/config/default)")
	cmd.Flags().StringVar(&storeDir, "store-dir", "", "directory for run state files")
	cmd.Flags().StringVar(&flowsDir, "flows-dir", "", "base directory for file-referenced flows")
	cmd.Flags().Int64Var(&maxBody, "max-body", 0, "maximum request body size in bytes")
	cmd.Flags().StringVar(&configFile, "config", "ironflow.yaml", "path to an optional ironflow.yaml config file")

	return cmd
}
