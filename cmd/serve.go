package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"ytmusicdl/internal/api"
	"ytmusicdl/internal/config"
	"ytmusicdl/internal/extractor"
	fileutil "ytmusicdl/internal/file"
	"ytmusicdl/internal/job"
	"ytmusicdl/internal/metrics"
	"ytmusicdl/internal/removable"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
	janitorInterval   = time.Minute
	playlistTimeout   = 60 * time.Second
	metricsNamespace  = "ytmusicdl"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and web UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return serve(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cfg config.Config) error {
	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		return fmt.Errorf("ensure data dir %s: %w", cfg.DataDir, err)
	}

	lock := flock.New(filepath.Join(cfg.DataDir, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock data dir: %w", err)
	}
	if !locked {
		return fmt.Errorf("data dir %s is in use by another instance", cfg.DataDir)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warn().Err(err).Msg("release data dir lock")
		}
	}()

	baseCtx, baseCancel := context.WithCancel(context.Background())
	defer baseCancel()

	store, closeStore, err := openStore(baseCtx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		recorder     job.Recorder
		copyObserver func(int64, error)
		registry     *prometheus.Registry
	)
	if cfg.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m := metrics.New(metricsNamespace, registry)
		recorder = m
		copyObserver = m.CopyFinished
	}

	runner := extractor.NewCommandRunner(cfg.YTDLPPath, cfg.CancelGrace)
	manager := job.NewManager(job.Options{
		DefaultDir:        cfg.DownloadsDir,
		AllowedHosts:      cfg.AllowedHosts,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		Retention:         cfg.FinishedRetention,
		Runner:            runner,
		Store:             store,
		Recorder:          recorder,
	})
	if err := manager.LoadFromStore(baseCtx); err != nil {
		log.Warn().Err(err).Msg("failed to load job history")
	}
	manager.SetBaseContext(baseCtx)
	go manager.RunJanitor(baseCtx, janitorInterval)

	router := setupRouter()
	apiHandler := api.NewAPI(api.Options{
		Jobs:         manager,
		AllowedHosts: cfg.AllowedHosts,
		Prober:       runner,
		Playlists:    extractor.NewPlaylistLister(playlistTimeout),
		ListDrives:   removable.ListDrives,
		Copy:         removable.CopyToRemovable,
		CopyObserver: copyObserver,
	})
	apiHandler.RegisterRoutes(router)
	apiHandler.RegisterUIRoutes(router)
	if registry != nil {
		api.RegisterMetricsRoute(router, registry)
	}

	srv := newHTTPServer(cfg.Addr(), router, readHeaderTimeout)
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.Store).Str("downloads", cfg.DownloadsDir).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		baseCancel()
		manager.WaitAll(context.Background())
		return fmt.Errorf("http server failed: %w", err)
	case <-waitForShutdownSignal():
	}

	gracefulShutdown(srv, baseCancel, manager, shutdownTimeout)
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (job.Store, func(), error) {
	if cfg.Store == config.StoreSQLite {
		s, err := job.OpenSQLiteStore(ctx, cfg.StorePath())
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Warn().Err(err).Msg("close sqlite store")
			}
		}, nil
	}
	return job.NewFileStore(cfg.StorePath()), func() {}, nil
}

func setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

func newHTTPServer(addr string, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() <-chan os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	return quit
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, m *job.Manager, timeout time.Duration) {
	log.Info().Msg("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	// cancel jobs first so open event streams see their terminal record and end
	cancelBase()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	done := m.WaitAll(ctx)
	if !done {
		log.Warn().Msg("background workers did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
