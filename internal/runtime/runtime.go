package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/bus"
	"github.com/loqalabs/loqa-interpreter/internal/capability"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/eventstore"
	"github.com/loqalabs/loqa-interpreter/internal/natsserver"
	"github.com/loqalabs/loqa-interpreter/internal/page"
	"github.com/loqalabs/loqa-interpreter/internal/stt"
	"github.com/loqalabs/loqa-interpreter/internal/translate"
	"github.com/loqalabs/loqa-interpreter/internal/web"
)

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	ready      atomic.Bool
	wg         sync.WaitGroup

	addr     atomic.Value
	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	store    *eventstore.Store
	registry *capability.Registry
	page     *page.Page
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Addr is the HTTP listen address once the runtime is ready.
func (r *Runtime) Addr() string {
	v, _ := r.addr.Load().(string)
	return v
}

// Ready reports whether the HTTP server is accepting requests and the bus,
// when enabled, is connected.
func (r *Runtime) Ready() bool {
	if !r.ready.Load() {
		return false
	}
	if r.bus != nil && !r.bus.Healthy() {
		return false
	}
	if r.registry != nil && !r.registry.Healthy() {
		return false
	}
	return true
}

// Start wires every component, serves HTTP and blocks until ctx is done.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}()
	defer r.closeComponents()

	if err := r.startBus(ctx); err != nil {
		return err
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store

	var frames stt.FrameSource
	if r.bus != nil {
		frames = stt.NewBusFrameSource(r.bus.Conn(), r.logger)
	}
	recognizer, available := stt.Detect(r.cfg.STT, stt.Deps{Frames: frames, Logger: r.logger})

	translator, err := translate.New(r.cfg.Translate)
	if err != nil {
		return fmt.Errorf("failed to create translator: %w", err)
	}

	var sinks page.MultiSink
	if r.bus != nil {
		sinks = append(sinks, newBusSink(r.bus, r.logger))
	}
	if store.Persistent() {
		sinks = append(sinks, newStoreSink(store, r.logger))
	}

	r.page, err = page.New(page.Options{
		Recognizer: recognizer,
		Translator: translator,
		Recognition: stt.Options{
			Language:   r.cfg.STT.Language,
			Continuous: r.cfg.STT.Continuous,
			Interim:    r.cfg.STT.Interim,
		},
		DefaultTarget: r.cfg.Page.DefaultTarget,
		Sink:          sinks,
		Logger:        r.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create page: %w", err)
	}

	webOpts := web.Options{Page: r.page, Store: store, Title: r.cfg.Page.Title, Logger: r.logger}
	if r.bus != nil {
		caps := capability.Describe(r.cfg.STT, available, r.cfg.Translate)
		r.registry, err = capability.NewRegistry(ctx, r.cfg.Node, caps, r.bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start capability registry: %w", err)
		}
		webOpts.Nodes = r.registry
	}
	webServer, err := web.New(webOpts)
	if err != nil {
		return fmt.Errorf("failed to create web server: %w", err)
	}

	mux := http.NewServeMux()
	webServer.Register(mux)
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.Handle("/metrics", metricsHandler)

	addr := net.JoinHostPort(r.cfg.HTTP.Bind, fmt.Sprint(r.cfg.HTTP.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	r.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slogError(err))
		}
	}()

	r.addr.Store(listener.Addr().String())
	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", listener.Addr().String()),
		slog.Bool("recognizer_available", available),
		slog.String("translator", r.cfg.Translate.Mode),
	)

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slogError(err))
	}
	r.wg.Wait()
	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		r.logger.Info("message bus disabled")
		return nil
	}
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	r.embedded = embedded

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.bus = client
	return nil
}

// closeComponents releases everything in reverse start order.
func (r *Runtime) closeComponents() {
	if r.page != nil {
		r.page.Close()
	}
	if r.registry != nil {
		r.registry.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slogError(err))
		}
	}
	r.embedded.Shutdown()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
