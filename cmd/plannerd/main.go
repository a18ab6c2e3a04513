// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Command plannerd wires the runtime described in SPEC_FULL.md from a
// JSON config file: resource monitor, subgraph catalog, cost models,
// one execution context per configured worker, the scheduler chain,
// and the planner's main loop.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/edgerun/plannerd/internal/catalog"
	"github.com/edgerun/plannerd/internal/cloud"
	"github.com/edgerun/plannerd/internal/cost"
	"github.com/edgerun/plannerd/internal/job"
	"github.com/edgerun/plannerd/internal/planner"
	"github.com/edgerun/plannerd/internal/resource"
	"github.com/edgerun/plannerd/internal/scheduler"
	"github.com/edgerun/plannerd/internal/tensor"
	"github.com/edgerun/plannerd/internal/worker"
	"github.com/edgerun/plannerd/pkg/analytics"
	"github.com/edgerun/plannerd/pkg/cache"
	"github.com/edgerun/plannerd/pkg/config"
	rterrors "github.com/edgerun/plannerd/pkg/errors"
	"github.com/edgerun/plannerd/pkg/logging"
	"github.com/edgerun/plannerd/pkg/metrics"
	"github.com/edgerun/plannerd/pkg/obsapi"
	"github.com/edgerun/plannerd/pkg/pool"
	"github.com/edgerun/plannerd/pkg/streaming"
	"github.com/edgerun/plannerd/pkg/watch"
)

// queueDepthGauge is the slice of internal/worker.DeviceQueueWorker
// metricsSampler polls; satisfied by *worker.DeviceQueueWorker.
type queueDepthGauge interface {
	ID() int
	QueueLen() int
}

// thermalGauge is the slice of internal/resource.Monitor
// metricsSampler polls.
type thermalGauge interface {
	GetAllTemperature() []int64
}

// metricsSampler periodically records queue depth and thermal gauges,
// and subscribes to the planner's finished-job feed to record
// per-job completion metrics. It is a passive observer, same as
// pkg/analytics.Collector, just reporting raw counters instead of a
// derived efficiency score.
func metricsSampler(ctx context.Context, pl *planner.Planner, monitor thermalGauge, gauges []queueDepthGauge, collector metrics.Collector, interval time.Duration) {
	finished, cancel := pl.Subscribe(256)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-finished:
			if !ok {
				return
			}
			collector.RecordJobCompletion(ev.Job.WorkerID, ev.Job.ModelID, ev.Job.Status, ev.Job.ProfiledLatency)
		case <-ticker.C:
			for _, g := range gauges {
				collector.RecordQueueDepth(g.ID(), g.QueueLen())
			}
			for workerID, temp := range monitor.GetAllTemperature() {
				collector.RecordThermalReading(workerID, temp)
			}
		}
	}
}

func main() {
	configPath := flag.String("config", "", "path to the runtime JSON config")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "plannerd: -config is required")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plannerd: loading config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.DefaultConfig())
	if err := run(cfg, logger); err != nil {
		logger.Error("plannerd exited with error", "error", err)
		os.Exit(1)
	}
}

// unimplementedInvoker is the seam spec.md §1 leaves open: tensor
// kernels, delegate bindings, and the flatbuffer loader live outside
// this module. A local worker built with it surfaces a normal
// invoke_failure rather than running real inference; it exists so
// this binary wires end-to-end without a hardware delegate attached.
type unimplementedInvoker struct{}

func (unimplementedInvoker) Invoke(*job.Job, *catalog.Subgraph) error {
	return rterrors.New(rterrors.KindInvokeFailure, "no tensor-kernel delegate wired for this worker")
}

func (unimplementedInvoker) Available() bool { return true }

func run(cfg *config.RuntimeConfig, logger logging.Logger) error {
	workerIDs := make([]int, len(cfg.Workers))
	for i := range cfg.Workers {
		workerIDs[i] = i
	}

	cat := catalog.New(catalog.StaticInvestigator{}, workerIDs, cfg.MinimumSubgraphSize)
	models := cost.NewModelManager(cfg.ProfileSmoothingFactor)
	ring := tensor.New(tensor.DefaultCapacity)

	var resourceSources []resource.Source
	for i, r := range cfg.Resources {
		throttle := r.ThrottleTemp
		if throttle <= 0 {
			throttle = resource.Unknown
		}
		resourceSources = append(resourceSources, resource.Source{
			WorkerID:     i,
			TZPath:       r.TZPath,
			FreqPath:     r.FreqPath,
			ThrottleTemp: throttle,
		})
	}
	monitor := resource.NewMonitor(resourceSources, 256, logger)
	monitor.Start()
	defer monitor.Stop()

	availabilityInterval := cfg.AvailabilityCheckInterval()

	var jobLog *planner.JobLog
	if cfg.LogPath != "" {
		f, err := os.Create(cfg.LogPath)
		if err != nil {
			return fmt.Errorf("opening job log %s: %w", cfg.LogPath, err)
		}
		defer f.Close()
		jobLog = planner.NewJobLog(f, cfg.Schedulers[0], nil)
	}

	cloudWorkerID := len(cfg.Workers) // offloading target, if configured, is appended after local workers

	schedulers := make([]scheduler.Scheduler, 0, len(cfg.Schedulers))
	for _, id := range cfg.Schedulers {
		s, err := scheduler.ByID(id, cloudWorkerID, monitor, 1)
		if err != nil {
			return fmt.Errorf("building scheduler %d: %w", id, err)
		}
		schedulers = append(schedulers, s)
	}

	modelDeviceMap := make(map[int]int)

	predictionCache := cache.New(models, nil)
	defer predictionCache.Close()

	opts := []planner.Option{planner.WithLatencyCache(predictionCache)}
	if jobLog != nil {
		opts = append(opts, planner.WithJobLog(jobLog))
	}
	pl := planner.New(cat, models, ring, schedulers, cfg.ScheduleWindowSize, modelDeviceMap, logger, opts...)

	collector := analytics.NewCollector(pl, monitor, 5*time.Minute)
	metricsCollector := metrics.NewInMemoryCollector()

	workPool := worker.NewPool(pl)

	var running []worker.Worker
	var gauges []queueDepthGauge
	for i, wc := range cfg.Workers {
		zones := wc.Zones
		if len(zones) == 0 && wc.Device != "" {
			zones = []string{wc.Device}
		}
		models.RegisterWorker(i, cost.KindLocal, zones)

		w := worker.NewDeviceQueueWorker(i, i, cost.KindLocal, cat, unimplementedInvoker{}, ring, models, pl, logger, monitor, zones, cfg.AllowWorkSteal, availabilityInterval)
		w.SetPool(workPool)
		workPool.Register(w)
		pl.RegisterWorker(planner.WorkerInfo{Worker: w, Type: scheduler.DeviceQueue, IsIdleFunc: func() bool { return w.QueueEmpty() }})
		collector.RegisterWorker(i, func() bool { return w.QueueEmpty() })
		gauges = append(gauges, w)

		w.Start()
		running = append(running, w)
	}

	if cfg.OffloadingTarget != "" {
		cloudZones := []string{"offload"}
		models.RegisterWorker(cloudWorkerID, cost.KindCloud, cloudZones)
		client := cloud.NewClient(cfg.OffloadingTarget, pool.NewHTTPClientPool(nil, logger), logger)
		inv := cloud.NewInvoker(client, strconv.Itoa, cfg.OffloadingDataSize, 0, 3)
		cw := worker.NewGlobalQueueWorker(cloudWorkerID, cloudWorkerID, cost.KindCloud, cat, inv, ring, models, pl, logger, monitor, cloudZones, false, availabilityInterval)
		pl.RegisterWorker(planner.WorkerInfo{Worker: cw, Type: scheduler.GlobalQueue, IsIdleFunc: func() bool { return !cw.IsBusy() }})
		collector.RegisterWorker(cloudWorkerID, func() bool { return !cw.IsBusy() })
		cw.Start()
		running = append(running, cw)
	}

	collectorCtx, stopCollector := context.WithCancel(context.Background())
	defer stopCollector()
	collector.Start(collectorCtx)
	go metricsSampler(collectorCtx, pl, monitor, gauges, metricsCollector, availabilityInterval)

	go pl.Run()

	var httpServer *http.Server
	if cfg.ObservabilityAddr != "" {
		srv, err := newObservabilityServer(cfg.ObservabilityAddr, pl, collector, metricsCollector, logger)
		if err != nil {
			return fmt.Errorf("building observability server: %w", err)
		}
		httpServer = srv
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("observability server stopped", "error", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("plannerd shutting down")
	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}
	pl.Stop()
	for _, w := range running {
		w.Stop()
	}
	return nil
}

// newObservabilityServer exposes the job-event WebSocket/SSE streams
// (pkg/streaming, fed by pkg/watch) and a pull-based efficiency report
// (pkg/analytics) over HTTP. This surface is purely observational: it
// never accepts a request that could influence scheduling. Every route
// is validated against pkg/obsapi's embedded OpenAPI document before
// reaching its handler.
func newObservabilityServer(addr string, pl *planner.Planner, collector *analytics.Collector, metricsCollector metrics.Collector, logger logging.Logger) (*http.Server, error) {
	validator, err := obsapi.NewValidator()
	if err != nil {
		return nil, err
	}

	jobWatcher := watch.NewJobWatcher(pl)
	ws := streaming.NewWebSocketServer(jobWatcher, logger)
	sse := streaming.NewSSEServer(jobWatcher)

	router := mux.NewRouter()
	router.HandleFunc("/jobs/ws", ws.HandleWebSocket)
	router.HandleFunc("/jobs/events", sse.HandleSSE)
	router.HandleFunc("/analytics/report", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, collector.Snapshot(time.Now()), obsapi.Pretty(r))
	})
	router.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, metricsCollector.GetStats(), obsapi.Pretty(r))
	})

	return &http.Server{Addr: addr, Handler: validator.Middleware(router)}, nil
}

// writeJSON encodes v to w, indenting when pretty is set (the `pretty`
// query parameter pkg/obsapi.Pretty binds).
func writeJSON(w http.ResponseWriter, v interface{}, pretty bool) {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}
