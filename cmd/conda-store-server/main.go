package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/peytondmurray/conda-store/internal/common/logtrace"
	"github.com/peytondmurray/conda-store/internal/condastore/buildmanager"
	"github.com/peytondmurray/conda-store/internal/condastore/config"
	"github.com/peytondmurray/conda-store/internal/condastore/db"
	"github.com/peytondmurray/conda-store/internal/condastore/server"
	"github.com/peytondmurray/conda-store/internal/condastore/storage"
	"github.com/peytondmurray/conda-store/internal/condastore/task"
)

func init() {
	logtrace.InitLogger()
}

type cmdoptions struct {
	configFile string
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		log.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	slog := log.With().Str("state", "init").Logger()

	opt := parseFlags()

	slog.Info().Str("config_file", opt.configFile).Msg("loading config file")
	if err := config.LoadConfig(opt.configFile); err != nil {
		return fmt.Errorf("loading config file: %w", err)
	}

	db.Init()

	manager, tasks, err := createManager()
	if err != nil {
		return err
	}

	if err := ensureDefaultNamespace(ctx, manager); err != nil {
		return fmt.Errorf("ensuring default namespace: %w", err)
	}

	serverErrors, shutdownServer, err := createAPIServer(ctx, manager)
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}

	stopSweeper := startQueueSweeper(ctx, manager)

	// Channel to listen for an interrupt or terminate signal from the OS.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Wait forever until shutdown
	select {
	case err := <-serverErrors:
		stopSweeper()
		tasks.Wait()
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		slog.Info().Str("signal", sig.String()).Msg("shutdown signal received")
		stopSweeper()
		shutdownServer()
		tasks.Wait()
	}

	slog.Info().Msg("server stopped")
	return nil
}

// createManager wires the blob store and the in-process task broker into the
// build manager. Blobs live next to the built environments so a single
// store_directory volume carries both.
func createManager() (*buildmanager.Manager, *task.InProcessClient, error) {
	blobRoot := filepath.Join(config.Config().Build.StoreDirectory, ".blobs")
	store, err := storage.NewLocalStorage(blobRoot, "/api/"+server.APIVersion+"/artifact")
	if err != nil {
		return nil, nil, fmt.Errorf("creating blob store: %w", err)
	}

	tasks := task.NewInProcessClient()
	manager := buildmanager.NewManager(tasks, store)
	manager.RegisterTaskHandlers(tasks)
	return manager, tasks, nil
}

// ensureDefaultNamespace creates the configured default namespace so
// unauthenticated role bindings have something to bind to on first boot.
func ensureDefaultNamespace(ctx context.Context, manager *buildmanager.Manager) error {
	ctx = log.Logger.WithContext(ctx)
	ctx, err := db.ConnCtx(ctx)
	if err != nil {
		return err
	}
	defer db.DB(ctx).Close(ctx)

	ns, aerr := manager.EnsureNamespace(ctx, config.Config().DefaultNamespace)
	if aerr != nil {
		return aerr
	}
	log.Info().Str("namespace", ns.Name).Msg("default namespace ready")
	return nil
}

func createAPIServer(ctx context.Context, manager *buildmanager.Manager) (chan error, func(), error) {
	slog := log.With().Str("state", "init").Logger()
	s, err := server.CreateNewServer(manager)
	if err != nil {
		return nil, nil, fmt.Errorf("creating server: %w", err)
	}
	s.MountHandlers()

	srv := &http.Server{
		Addr:              ":" + config.Config().ServerPort,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)

	// Start the service listening for requests.
	go func() {
		slog.Info().Str("port", config.Config().ServerPort).Msg("server started")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := func() {
		// Give outstanding requests 5 seconds to complete and initiate the shutdown.
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error().Err(err).Msg("could not stop server gracefully")
			if err := srv.Close(); err != nil {
				slog.Error().Err(err).Msg("could not stop server")
			}
		}
	}

	return serverErrors, shutdown, nil
}

// startQueueSweeper periodically fails builds stuck in QUEUED beyond the
// configured timeout. Returns a stop function. No-op when queued_timeout is
// unset.
func startQueueSweeper(ctx context.Context, manager *buildmanager.Manager) func() {
	if config.Config().Build.QueuedTimeout == "" {
		return func() {}
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				sweep(sweepCtx, manager)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func sweep(ctx context.Context, manager *buildmanager.Manager) {
	ctx = log.Logger.WithContext(ctx)
	ctx, err := db.ConnCtx(ctx)
	if err != nil {
		log.Error().Err(err).Msg("queue sweep could not get db connection")
		return
	}
	defer db.DB(ctx).Close(ctx)

	if _, aerr := manager.FailStaleQueuedBuilds(ctx); aerr != nil {
		log.Error().Err(aerr).Msg("queue sweep failed")
	}
}

const DefaultConfigFile = "/etc/conda-store/condastore.conf"

func parseFlags() cmdoptions {
	var opt cmdoptions
	flag.StringVar(&opt.configFile, "config", DefaultConfigFile, "Path to the config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options]\n\n", os.Args[0])
		fmt.Println("Options:")
		flag.PrintDefaults()
	}
	flag.Parse()
	return opt
}
