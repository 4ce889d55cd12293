package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cleanconvert/internal/archive"
	"cleanconvert/internal/batch"
	"cleanconvert/internal/convert"
	"cleanconvert/internal/handlers"
	"cleanconvert/internal/history"
	"cleanconvert/internal/lifecycle"
	"cleanconvert/internal/logging"
	"cleanconvert/internal/memory"
	"cleanconvert/internal/metrics"
	"cleanconvert/internal/middleware"
	"cleanconvert/internal/queue"
	"cleanconvert/internal/startup"
	"cleanconvert/internal/validate"
)

func main() {
	startTime := time.Now()

	// Memory limits first so GOMEMLIMIT applies to everything after
	startup.LogMemoryConfig(memory.ConfigureFromEnv(nil))

	config, err := startup.LoadConfig()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}
	defaultReq, err := config.DefaultRequest()
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	observer := metrics.NewObserver()
	metrics.InitializeMetrics()
	metrics.SetAppInfo(startup.Version, startup.Commit, runtime.Version())

	vipsEnabled := false
	if config.VipsEnabled {
		if err := convert.InitVips(nil); err != nil {
			logging.Warn("libvips unavailable, continuing with built-in codecs: %v", err)
		} else {
			vipsEnabled = true
		}
	}

	engine := convert.NewEngine(convert.Options{
		Vips:             vipsEnabled,
		DisabledEncoders: config.DisabledEncoders,
		MaxDimension:     config.MaxImageDimension,
		Observer:         observer,
	})
	startup.LogEngineInit(vipsEnabled, engine.Capabilities().MediaTypes())

	memCfg := memory.DefaultConfig()
	memCfg.Observer = observer
	monitor := memory.NewMonitor(memCfg)
	monitor.Start()

	retryCfg := config.RetryConfig(nil)
	retryCfg.Observer = observer
	q := queue.New(engine, queue.Config{
		Concurrency: config.Workers(),
		Timeout:     config.Timeout,
		Retry:       retryCfg,
		Memory:      monitor,
		Observer:    observer,
	})
	metrics.QueueLimit.Set(float64(q.Limit()))

	store, err := history.Open(context.Background(), history.Options{DSN: config.HistoryDSN, Observer: observer})
	if err != nil {
		startup.LogFatal("Failed to open history: %v", err)
	}

	registry := lifecycle.NewRegistry(lifecycle.Options{Observer: observer})
	codec := archive.NewZipCodec(config.MaxArchiveSize)
	b := batch.New(batch.Deps{
		Queue:     q,
		Engine:    engine,
		Registry:  registry,
		Validator: validate.New(config.ValidatorConfig()),
		Unpacker:  codec,
		Packer:    codec,
		Recorder:  store,
	}, batch.Config{
		MaxItems:        config.MaxBatchSize,
		VerifyIntegrity: config.VerifyIntegrity,
		DefaultRequest:  defaultReq,
		SweepInterval:   config.SweepInterval,
	})
	logging.Info("Batch %s ready (max %d items)", b.ID(), config.MaxBatchSize)

	baseCtx, cancelBase := context.WithCancel(context.Background())
	h := handlers.New(handlers.Deps{
		Batch:       b,
		Engine:      engine,
		Registry:    registry,
		History:     store,
		Memory:      monitor,
		Rejections:  observer,
		Config:      config,
		BaseContext: baseCtx,
	})

	router := setupRouter(h)
	startup.LogHTTPRoutes(router)

	loggingConfig := middleware.DefaultLoggingConfig(nil)
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler := middleware.RequestID(
		middleware.Logger(loggingConfig)(
			middleware.Compression(middleware.DefaultCompressionConfig())(router),
		),
	)

	srv := &http.Server{
		Addr:              config.ListenAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Uploads and processing passes can run long
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	var (
		metricsSrv *http.Server
		collector  *metrics.Collector
	)
	if config.MetricsEnabled {
		collector = metrics.NewCollector(metrics.StatsFunc(func() metrics.Stats {
			s := b.Stats()
			return metrics.Stats{
				Pending:       s.Pending,
				Processing:    s.Processing,
				Completed:     s.Completed,
				Failed:        s.Failed,
				OriginalBytes: s.OriginalBytes,
				OutputBytes:   s.OutputBytes,
			}
		}), startup.DefaultMetricsCollection, nil)
		collector.Start()

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              config.MetricsAddr(),
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Metrics server error: %v", err)
			}
		}()
	}

	go handleShutdown(shutdownDeps{
		srv:        srv,
		metricsSrv: metricsSrv,
		collector:  collector,
		cancelBase: cancelBase,
		batch:      b,
		queue:      q,
		monitor:    monitor,
		history:    store,
		vips:       vipsEnabled,
	})

	startup.LogServerStarted(startup.ServerConfig{
		ListenAddr:      config.ListenAddr(),
		MetricsAddr:     config.MetricsAddr(),
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}
	<-shutdownDone
}

func setupRouter(h *handlers.Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics(middleware.DefaultMetricsConfig()))

	// Health check and version routes
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/formats", h.GetFormats).Methods("GET")

	// Batch
	api.HandleFunc("/files", h.UploadFiles).Methods("POST")
	api.HandleFunc("/items", h.ListItems).Methods("GET")
	api.HandleFunc("/items", h.ClearItems).Methods("DELETE")
	api.HandleFunc("/items/{id}", h.GetItem).Methods("GET")
	api.HandleFunc("/items/{id}", h.RemoveItem).Methods("DELETE")
	api.HandleFunc("/settings", h.GetSettings).Methods("GET")
	api.HandleFunc("/settings", h.UpdateSettings).Methods("PUT")
	api.HandleFunc("/process", h.ProcessAll).Methods("POST")

	// Results
	api.HandleFunc("/items/{id}/download", h.DownloadItem).Methods("GET", "HEAD")
	api.HandleFunc("/downloads", h.ListDownloads).Methods("GET")
	api.HandleFunc("/download", h.DownloadArchive).Methods("GET", "HEAD")
	api.HandleFunc("/history", h.GetHistory).Methods("GET")

	r.HandleFunc("/blob/{id}", h.ServeBlob).Methods("GET", "HEAD")

	return r
}

var shutdownDone = make(chan struct{})

type shutdownDeps struct {
	srv        *http.Server
	metricsSrv *http.Server
	collector  *metrics.Collector
	cancelBase context.CancelFunc
	batch      *batch.Batch
	queue      *queue.Queue
	monitor    *memory.Monitor
	history    *history.Store
	vips       bool
}

func handleShutdown(d shutdownDeps) {
	defer close(shutdownDone)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := d.srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}
	if d.metricsSrv != nil {
		if err := d.metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		}
	}
	if d.collector != nil {
		d.collector.Stop()
	}

	startup.LogShutdownStep("Releasing batch")
	d.cancelBase()
	d.batch.Close()
	startup.LogShutdownStepComplete("Batch released")

	startup.LogShutdownStep("Stopping conversion queue")
	d.queue.Close()
	d.monitor.Stop()
	if d.vips {
		convert.ShutdownVips(nil)
	}
	startup.LogShutdownStepComplete("Conversion queue stopped")

	startup.LogShutdownStep("Closing history")
	if err := d.history.Close(); err != nil {
		logging.Warn("History close error: %v", err)
	} else {
		startup.LogShutdownStepComplete("History closed")
	}

	startup.LogShutdownComplete()
}
