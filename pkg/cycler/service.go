// Package cycler is the application-processor control plane of the
// multi-channel battery cycler. A Service owns the priority dispatcher, the
// channel measurement table, the callback registry, and the ingest loop,
// and exposes the high-level test procedures that compose them.
package cycler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/adapters/driver"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/adapters/observability"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/adapters/transport"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/app/config"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/app/ingest"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/callback"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/channeltable"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/dispatch"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/domain"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/ports"
	"github.com/ZhiyuanArbin/ChannelManagerArchitecture/internal/signalproc"
)

// Option customizes the dependencies used by the Service.
type Option func(*overrides)

type overrides struct {
	driver      ports.ChannelController
	source      ports.FrameSource
	obs         ports.Observability
	workerCount int
}

// WithDriver injects a custom hardware controller (real M4 bridge,
// recording fakes, etc.).
func WithDriver(d ports.ChannelController) Option {
	return func(o *overrides) { o.driver = d }
}

// WithFrameSource injects a custom telemetry source.
func WithFrameSource(src ports.FrameSource) Option {
	return func(o *overrides) { o.source = src }
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs ports.Observability) Option {
	return func(o *overrides) { o.obs = obs }
}

// WithWorkerCount overrides the configured worker pool size.
func WithWorkerCount(n int) Option {
	return func(o *overrides) { o.workerCount = n }
}

// Service wires the dispatcher, channel table, callback registry, signal
// processor, and ingest loop around a hardware driver and a telemetry
// source. Construct exactly one per process entry point; unit tests can
// instantiate isolated services.
type Service struct {
	cfg *config.Config
	obs ports.Observability

	driver     ports.ChannelController
	source     ports.FrameSource
	table      *channeltable.Table
	registry   *callback.Registry
	dispatcher *dispatch.Dispatcher
	proc       *signalproc.Processor
	loop       *ingest.Loop

	metricsSrv   *http.Server
	ingestCancel context.CancelFunc
	ingestDone   chan struct{}
	stopOnce     sync.Once
	stopped      chan struct{}
}

// New builds a Service from the configuration, starting the dispatcher
// workers immediately. The ingest loop starts on Start or Run.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var o overrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	obs := o.obs
	if obs == nil {
		obs = observability.NewPromObs()
	}

	drv := o.driver
	if drv == nil {
		drv = driver.NewDummy()
	}

	src := o.source
	if src == nil {
		var err error
		if cfg.Ingest.Device == "sim" {
			src = transport.NewSimulator(cfg.Ingest.Interval)
		} else if src, err = transport.OpenRPMsg(cfg.Ingest.Device); err != nil {
			return nil, err
		}
	}

	workers := cfg.Workers
	if o.workerCount > 0 {
		workers = o.workerCount
	}

	table := channeltable.New()
	registry := callback.New()
	proc := signalproc.New(signalproc.DefaultWindow)
	dispatcher := dispatch.New(workers, obs)

	s := &Service{
		cfg:        cfg,
		obs:        obs,
		driver:     drv,
		source:     src,
		table:      table,
		registry:   registry,
		dispatcher: dispatcher,
		proc:       proc,
		stopped:    make(chan struct{}),
	}
	s.loop = &ingest.Loop{
		Source:     src,
		Table:      table,
		Registry:   registry,
		Dispatcher: dispatcher,
		Proc:       proc,
		Obs:        obs,
		Interval:   cfg.Ingest.Interval,
	}
	return s, nil
}

// Start launches the ingest loop and the metrics endpoint and returns
// immediately. Call Run to block on a context instead.
func (s *Service) Start() error {
	if s.ingestDone != nil {
		return fmt.Errorf("service already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.ingestCancel = cancel
	s.ingestDone = make(chan struct{})
	go func() {
		s.loop.Run(ctx)
		close(s.ingestDone)
	}()

	s.startMetrics()
	return nil
}

// Run starts the service and blocks until the context is cancelled, then
// shuts down and waits for the ingest loop to exit.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-s.ingestDone
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown stops ingestion, drains in-flight tasks, and releases the
// transport and metrics endpoint. It is safe to call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	var errs []error
	s.stopOnce.Do(func() {
		close(s.stopped)

		// Close the transport first so a blocked ReadFrames returns and
		// the loop can observe the cancelled context.
		if err := s.source.Close(); err != nil {
			errs = append(errs, err)
		}
		if s.ingestCancel != nil {
			s.ingestCancel()
			select {
			case <-s.ingestDone:
			case <-ctx.Done():
				errs = append(errs, fmt.Errorf("ingest loop: %w", ctx.Err()))
			}
		}

		s.dispatcher.Shutdown()
		if s.metricsSrv != nil {
			if err := s.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs = append(errs, err)
			}
		}
		s.obs.LogInfo("service_stopped")
	})
	return errors.Join(errs...)
}

// running reports whether the service still accepts test procedures.
func (s *Service) running() error {
	select {
	case <-s.stopped:
		return domain.ErrServiceStopped
	default:
		return nil
	}
}

// SetWorkerCount resizes the dispatcher pool at runtime.
func (s *Service) SetWorkerCount(n int) {
	s.dispatcher.SetWorkerCount(n)
}

// GetWorkerCount reports the current pool size.
func (s *Service) GetWorkerCount() int {
	return s.dispatcher.WorkerCount()
}

// Snapshot returns a consistent copy of the channel's current measurements.
func (s *Service) Snapshot(ch domain.ChannelID) (domain.Snapshot, error) {
	return s.table.Snapshot(ch)
}

// Voltage returns the channel's latest voltage, or 0 when none has been
// ingested yet.
func (s *Service) Voltage(ch domain.ChannelID) float64 { return s.table.Voltage(ch) }

// Current returns the channel's latest current, or 0 when absent.
func (s *Service) Current(ch domain.ChannelID) float64 { return s.table.Current(ch) }

// DvDt returns the channel's latest voltage slope, or 0 when absent.
func (s *Service) DvDt(ch domain.ChannelID) float64 { return s.table.DvDt(ch) }

func (s *Service) startMetrics() {
	if s.cfg.Metrics.Addr == "" || s.cfg.Metrics.Addr == "off" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.metricsSrv = &http.Server{
		Addr:    s.cfg.Metrics.Addr,
		Handler: mux,
	}

	go func() {
		if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.obs.LogError("metrics_server_exited", err)
		}
	}()
}
