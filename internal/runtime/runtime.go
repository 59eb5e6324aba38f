package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/toneshift/internal/bus"
	"github.com/loqalabs/toneshift/internal/config"
	"github.com/loqalabs/toneshift/internal/eleven"
	"github.com/loqalabs/toneshift/internal/eventstore"
	"github.com/loqalabs/toneshift/internal/httpapi"
	"github.com/loqalabs/toneshift/internal/ingest"
	"github.com/loqalabs/toneshift/internal/journal"
	"github.com/loqalabs/toneshift/internal/natsserver"
	"github.com/loqalabs/toneshift/internal/orchestrator"
	"github.com/loqalabs/toneshift/internal/playback"
	"github.com/loqalabs/toneshift/internal/profile"
	"github.com/loqalabs/toneshift/internal/source"
	"github.com/loqalabs/toneshift/internal/stt"
	"github.com/loqalabs/toneshift/internal/transform"
	"github.com/loqalabs/toneshift/internal/tts"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	nats      *natsserver.EmbeddedServer
	bus       *bus.Client
	store     *eventstore.Store
	console   *orchestrator.Console
	recorder  *journal.Recorder
	busSource *source.Bus
	ingest    *ingest.Service
	stt       *stt.Service
	api       *httpapi.Server
	unsub     []func()
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	handler, err := r.build(ctx, metricsHandler)
	if err != nil {
		r.teardown()
		r.closeTelemetry(context.Background())
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("session_id", r.console.SessionID()))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.teardown()
	r.closeTelemetry(shutdownCtx)
	return nil
}

// build assembles every component and returns the root handler. On error
// the components built so far are left for teardown.
func (r *Runtime) build(ctx context.Context, metricsHandler http.Handler) (http.Handler, error) {
	cfg := r.cfg

	if cfg.Bus.Enabled {
		ns, err := natsserver.Start(cfg.Bus, r.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to start embedded NATS: %w", err)
		}
		r.nats = ns
		busCfg := cfg.Bus
		if ns != nil {
			busCfg.Servers = []string{ns.ClientURL()}
		}
		client, err := bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to bus: %w", err)
		}
		r.bus = client
	}

	store, err := eventstore.Open(ctx, cfg.EventStore, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store
	if err := store.Prune(ctx); err != nil {
		r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
	}

	profiles, err := profile.Open(ctx, store, cfg.Profile.Key, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load listening profile: %w", err)
	}

	elevenClient := eleven.New(cfg.Eleven.BaseURL, cfg.Eleven.APIKey, millis(cfg.Eleven.TimeoutMS), nil)

	deps := orchestrator.Deps{Profiles: profiles}
	if deps.Transformer, err = newTransformer(cfg); err != nil {
		return nil, err
	}
	if deps.Synthesizer, err = newSynthesizer(cfg, elevenClient); err != nil {
		return nil, err
	}
	if deps.Renderer, err = newRenderer(cfg.Playback); err != nil {
		return nil, err
	}
	if deps.Source, err = r.newSource(cfg); err != nil {
		return nil, err
	}
	if cfg.TTS.Mode == "eleven" && elevenClient.Configured() {
		deps.Voices = elevenClient
	}

	r.console = orchestrator.New(ctx, orchestrator.ConfigFrom(cfg.Console), deps, r.logger)

	r.recorder = journal.NewRecorder(ctx, store, r.console.SessionID(), cfg.Console.AuditPrivacy, r.logger)
	r.unsub = append(r.unsub, r.console.Subscribe(r.recorder.Observe))
	if r.bus != nil && cfg.Console.PublishEvents {
		r.unsub = append(r.unsub, r.console.Subscribe(journal.NewPublisher(r.bus, r.logger).Observe))
	}

	if r.bus != nil {
		opts := ingest.Options{Transcripts: true}
		if cfg.Source.Mode != "bus" {
			opts.UtteranceSubject = cfg.Source.Subject
		}
		r.ingest = ingest.NewService(opts, r.bus, r.console, r.logger)
		if err := r.ingest.Start(); err != nil {
			return nil, fmt.Errorf("failed to start ingest: %w", err)
		}
	}

	if cfg.STT.Enabled {
		recognizer, err := stt.NewRecognizer(cfg.STT)
		if err != nil {
			return nil, fmt.Errorf("failed to create recognizer: %w", err)
		}
		r.stt = stt.NewService(ctx, cfg.STT, r.bus, recognizer, r.logger)
		if err := r.stt.Start(); err != nil {
			return nil, fmt.Errorf("failed to start stt: %w", err)
		}
	}

	r.api = httpapi.New(httpapi.Options{
		TransformOrigin:  cfg.Transform.Origin,
		TransformTimeout: millis(cfg.Transform.TimeoutMS),
		GeneratorPath:    cfg.Source.Path,
		CORSOrigin:       cfg.HTTP.CORSOrigin,
	}, r.console, elevenClient, store, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle(cfg.Telemetry.MetricsPath, metricsHandler)
	}
	r.api.Register(mux)
	return mux, nil
}

// teardown stops components in reverse dependency order.
func (r *Runtime) teardown() {
	if r.api != nil {
		r.api.Close()
	}
	if r.stt != nil {
		r.stt.Close()
	}
	if r.ingest != nil {
		r.ingest.Close()
	}
	if r.console != nil {
		r.console.Close()
	}
	for _, unsub := range r.unsub {
		unsub()
	}
	if r.recorder != nil {
		r.recorder.Close()
		if n := r.recorder.Dropped(); n > 0 {
			r.logger.Warn("audit events dropped", slog.Int64("count", n))
		}
	}
	if r.busSource != nil {
		_ = r.busSource.Close()
	}
	r.bus.Close()
	r.nats.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) closeTelemetry(ctx context.Context) {
	if r.tracerClose == nil {
		return
	}
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func newTransformer(cfg config.Config) (transform.Transformer, error) {
	switch cfg.Transform.Mode {
	case "", "mock":
		return transform.NewMockTransformer(), nil
	case "http":
		return transform.NewHTTPTransformer(cfg.Transform.Origin, millis(cfg.Transform.TimeoutMS), nil), nil
	default:
		return nil, fmt.Errorf("unknown transform mode %q", cfg.Transform.Mode)
	}
}

func newSynthesizer(cfg config.Config, client *eleven.Client) (tts.Synthesizer, error) {
	switch cfg.TTS.Mode {
	case "", "mock":
		return tts.NewMockSynth(cfg.TTS.SampleRate), nil
	case "eleven":
		return tts.NewElevenSynth(client, cfg.Eleven.ModelID, cfg.Eleven.OutputFormat), nil
	case "exec":
		return tts.NewExecSynth(cfg.TTS.Command)
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.TTS.Mode)
	}
}

func newRenderer(cfg config.PlaybackConfig) (playback.Renderer, error) {
	switch cfg.Mode {
	case "", "clock":
		return playback.NewClockRenderer(millis(cfg.TickMS)), nil
	case "exec":
		return playback.NewExecRenderer(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown playback mode %q", cfg.Mode)
	}
}

func (r *Runtime) newSource(cfg config.Config) (source.Source, error) {
	switch cfg.Source.Mode {
	case "", "mock":
		return source.NewMock(millis(cfg.Source.DelayMS)), nil
	case "http":
		return source.NewHTTP(cfg.Transform.Origin, cfg.Source.Path, millis(cfg.Transform.TimeoutMS), nil), nil
	case "bus":
		if r.bus == nil {
			return nil, errors.New("source.mode=bus requires the bus")
		}
		src, err := source.NewBus(r.bus, cfg.Source.Subject)
		if err != nil {
			return nil, fmt.Errorf("failed to subscribe utterance source: %w", err)
		}
		r.busSource = src
		return src, nil
	default:
		return nil, fmt.Errorf("unknown source mode %q", cfg.Source.Mode)
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !r.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	if failing := r.unhealthy(); len(failing) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready: " + strings.Join(failing, ",")))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// unhealthy names the started components that report a fault.
func (r *Runtime) unhealthy() []string {
	var failing []string
	if r.bus != nil && !r.bus.Healthy() {
		failing = append(failing, "bus")
	}
	if r.ingest != nil && !r.ingest.Healthy() {
		failing = append(failing, "ingest")
	}
	if r.stt != nil && !r.stt.Healthy() {
		failing = append(failing, "stt")
	}
	return failing
}
