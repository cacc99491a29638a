package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/five82/backdrop/internal/docstore"
	"github.com/five82/backdrop/internal/docstore/remote"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Bind     string
	Database string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Share the library database with other devices",
		Long: `Serve the local library over a websocket so other Backdrop clients can
use it as their store (store_url = "ws://<host>:<port>/ws").

Endpoints:
  /ws       document store protocol
  /metrics  Prometheus metrics
  /health   liveness`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Bind, "bind", "", "listen address (default from config serve_bind)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database (default from config store_path)")
	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	e, err := loadEnv(opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.close()
	log := e.log.WithField("component", "serve")

	bind := opts.Bind
	if bind == "" {
		bind = e.cfg.ServeBind
	}

	docs := opts.Docs
	if docs == nil {
		path := opts.Database
		if path == "" {
			path = e.cfg.StorePath
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return WrapExitError(ExitFailure, "create store dir", err)
		}
		sqlite, err := docstore.OpenSQLite(path, docstore.SQLiteOptions{Logger: e.log})
		if err != nil {
			return WrapExitError(ExitFailure, "open document store", err)
		}
		defer sqlite.Close()
		docs = sqlite
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	router, server := newServeRouter(docs, reg, e.log)

	srv := &http.Server{
		Addr:              bind,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("bind", bind).Info("serving document store")
		errCh <- srv.ListenAndServe()
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "serving on %s (ws://%s/ws)\n", bind, bind)

	select {
	case err := <-errCh:
		server.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return WrapExitError(ExitFailure, "listen", err)
	case <-cmd.Context().Done():
	}

	log.Info("shutting down")
	server.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "shutdown", err)
	}
	return nil
}

// newServeRouter wires the store server, metrics and health endpoints.
func newServeRouter(docs docstore.Store, reg *prometheus.Registry, log logrus.FieldLogger) (*mux.Router, *remote.Server) {
	server := remote.NewServer(docs, remote.ServerOptions{Logger: log, Registerer: reg})

	router := mux.NewRouter()
	router.Handle("/ws", server)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	return router, server
}
