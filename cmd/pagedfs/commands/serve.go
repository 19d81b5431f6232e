package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/pagedfs/internal/logger"
	"github.com/marmos91/pagedfs/pkg/blockmaster"
	"github.com/marmos91/pagedfs/pkg/blockstore"
	"github.com/marmos91/pagedfs/pkg/config"
	"github.com/marmos91/pagedfs/pkg/loadjob"
	"github.com/marmos91/pagedfs/pkg/metrics"
	"github.com/marmos91/pagedfs/pkg/pagestore"
	"github.com/marmos91/pagedfs/pkg/ufs"
)

var (
	listenAddr string
	workerID   uint64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pagedfs worker",
	Long: `Start the pagedfs worker daemon: the paged block store, the
metrics endpoint and the load job scheduler with this worker as its
only member.

Examples:
  # Start with a config file
  pagedfs serve --config /etc/pagedfs/config.yaml

  # Override the config file's log level from the environment
  PAGEDFS_LOGGING_LEVEL=DEBUG pagedfs serve --config /etc/pagedfs/config.yaml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", ":29999", "worker API listen address")
	serveCmd.Flags().Uint64Var(&workerID, "worker-id", 1, "worker id reported to the master")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metricsSrv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: metrics.Handler(),
		}
		go func() {
			logger.Info("metrics endpoint listening", "port", cfg.Metrics.Port)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", logger.KeyError, err.Error())
			}
		}()
		defer metricsSrv.Shutdown(context.Background())
	}

	store, scheduler, underlying, cleanup, err := buildWorker(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{Addr: listenAddr, Handler: workerMux(ctx, store, scheduler, underlying, cfg)}
	go func() {
		logger.Info("worker api listening", "addr", listenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker api failed", logger.KeyError, err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildWorker assembles the block store and the load scheduler from
// the configuration.
func buildWorker(ctx context.Context, cfg *config.Config) (*blockstore.PagedBlockStore, *loadjob.Scheduler, ufs.UFS, func(), error) {
	var underlying ufs.UFS
	switch cfg.UFS.Type {
	case "s3":
		s3fs, err := ufs.NewS3UFS(ctx, ufs.S3Config{
			Bucket:   cfg.UFS.Bucket,
			Region:   cfg.UFS.Region,
			Endpoint: cfg.UFS.Endpoint,
		})
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("creating s3 ufs: %w", err)
		}
		underlying = s3fs
	default:
		underlying = ufs.NewLocalUFS(cfg.UFS.Root)
	}

	dirs := make([]pagestore.Dir, 0, len(cfg.Store.Dirs))
	for i, dirCfg := range cfg.Store.Dirs {
		dir, err := pagestore.NewFSDir(pagestore.FSDirConfig{
			Path:     dirCfg.Path,
			Index:    i,
			Capacity: dirCfg.Capacity.Bytes(),
			BlockOf:  blockstore.BlockOf,
		})
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("creating storage dir %d: %w", i, err)
		}
		dirs = append(dirs, dir)
	}

	pool, err := blockmaster.NewPool(cfg.Master.PoolSize, func() (blockmaster.Client, error) {
		return blockmaster.NewHTTPClient(cfg.Master.Address), nil
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("creating master client pool: %w", err)
	}

	var worker atomic.Uint64
	worker.Store(workerID)

	metaStore := blockstore.NewPagedBlockMetaStore(blockstore.StoreDirsOf(dirs...))
	streams := ufs.NewInStreamCache(underlying, cfg.UFS.StreamTTL)
	store, err := blockstore.NewPagedBlockStore(metaStore, pool, &worker, streams, blockstore.Options{
		PageSize:           cfg.Store.PageSize.Bytes(),
		RemoveBlockTimeout: cfg.Store.RemoveBlockTimeout,
		DefaultTier:        cfg.Store.Tier,
		DefaultMedium:      cfg.Store.Medium,
	})
	if err != nil {
		pool.Close()
		return nil, nil, nil, nil, err
	}

	scheduler := loadjob.NewScheduler(loadjob.SchedulerOptions{
		Concurrency: cfg.Load.Concurrency,
	})
	scheduler.AddWorker(&localWorker{store: store, addr: listenAddr})

	cleanup := func() {
		store.Close()
		pool.Close()
	}
	return store, scheduler, underlying, cleanup, nil
}

// localWorker serves load tasks against this process's own block store,
// making a single-worker deployment self-contained.
type localWorker struct {
	store *blockstore.PagedBlockStore
	addr  string
}

func (w *localWorker) Address() string { return w.addr }

func (w *localWorker) LoadFile(ctx context.Context, req loadjob.LoadFileRequest) (loadjob.LoadFileResponse, error) {
	failures := w.store.LoadFiles(ctx, req.Tag, req.Files)
	resp := loadjob.LoadFileResponse{Status: loadjob.StatusSuccess, Files: failures}
	switch {
	case len(failures) == len(req.Files) && len(req.Files) > 0:
		resp.Status = loadjob.StatusFailure
	case len(failures) > 0:
		resp.Status = loadjob.StatusPartial
	}
	return resp, nil
}

// workerMux exposes the worker's small control API: health, store meta,
// load job submission and progress.
func workerMux(ctx context.Context, store *blockstore.PagedBlockStore, scheduler *loadjob.Scheduler, underlying ufs.UFS, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("GET /v1/store/meta", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, store.GetBlockStoreMetaFull())
	})

	mux.HandleFunc("POST /v1/load", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Path      string `json:"path"`
			Bandwidth uint64 `json:"bandwidth"`
			Verify    bool   `json:"verify"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
			http.Error(w, "path is required", http.StatusBadRequest)
			return
		}
		job := loadjob.NewJob(underlying, loadjob.Options{
			Path:      req.Path,
			Bandwidth: req.Bandwidth,
			Verify:    req.Verify,
			BatchSize: cfg.Load.BatchSize,
		})
		if !scheduler.Submit(job) {
			http.Error(w, "a load job for this path already exists", http.StatusConflict)
			return
		}
		go scheduler.Run(ctx, job)
		writeJSON(w, map[string]string{"job_id": job.ID()})
	})

	mux.HandleFunc("GET /v1/load/{id}", func(w http.ResponseWriter, r *http.Request) {
		job, ok := scheduler.Get(r.PathValue("id"))
		if !ok {
			http.Error(w, "unknown job", http.StatusNotFound)
			return
		}
		report, err := job.Progress(loadjob.ReportJSON, r.URL.Query().Get("verbose") == "true")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, report)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", logger.KeyError, err.Error())
	}
}
