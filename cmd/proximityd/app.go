package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/opencontact/proximity/internal/log"
	"github.com/opencontact/proximity/pkg/cache"
	"github.com/opencontact/proximity/pkg/cli"
	"github.com/opencontact/proximity/pkg/connector"
	"github.com/opencontact/proximity/pkg/contact"
	"github.com/opencontact/proximity/pkg/engine"
	"github.com/opencontact/proximity/pkg/identity"
	"github.com/opencontact/proximity/pkg/metrics"
)

// daemon implements controller on top of a running engine.
type daemon struct {
	*engine.Engine
	store  contact.Archive
	config *cli.Config
}

func (d *daemon) List(ctx context.Context, since time.Time) ([]contact.SavedRecord, error) {
	return d.store.List(ctx, since)
}

func (d *daemon) SaveIdentity(id string) error {
	return d.config.SaveIdentityToKeyring(id)
}

type options struct {
	config  *cli.Config
	startOn bool
}

func newApp(opts options, populate ...interface{}) *fx.App {
	return fx.New(appOptions(opts, populate...))
}

func appOptions(opts options, populate ...interface{}) fx.Option {
	return fx.Options(
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Zap()}
		}),
		fx.Supply(opts),
		fx.Supply(opts.config),
		fx.Provide(
			provideRegistry,
			provideMetrics,
			provideRadio,
			provideStore,
			provideRecords,
			provideIdentity,
			provideEngine,
			provideDaemon,
		),
		fx.Invoke(serveMetrics),
		fx.Invoke(startEngine),
		fx.Populate(populate...),
	)
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func provideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func provideRadio(lc fx.Lifecycle, config *cli.Config) (*cli.Radio, error) {
	radio, err := config.OpenRadio()
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(radio.Close))
	return radio, nil
}

func provideStore(lc fx.Lifecycle, config *cli.Config) (contact.Archive, error) {
	store, err := config.OpenStore()
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(store.Close))
	return store, nil
}

func provideRecords(lc fx.Lifecycle, config *cli.Config) (*cache.RecordCache, error) {
	records, err := config.LoadRecordCache()
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(func() {
		config.SaveRecordCache(records)
	}))
	return records, nil
}

func provideIdentity(config *cli.Config) (identity.Source, error) {
	return config.IdentitySource()
}

type engineParams struct {
	fx.In

	Config   *cli.Config
	Radio    *cli.Radio
	Store    contact.Archive
	Records  *cache.RecordCache
	Identity identity.Source
	Metrics  *metrics.Metrics
}

func provideEngine(p engineParams) (*engine.Engine, error) {
	return engine.New(p.Config.EngineConfig(), engine.Dependencies{
		Central:    p.Radio.Central,
		Peripheral: p.Radio.Peripheral,
		Store:      p.Store,
		Identity:   p.Identity,
		Records:    p.Records,
		Metrics:    p.Metrics,
	})
}

func provideDaemon(e *engine.Engine, store contact.Archive, config *cli.Config) *daemon {
	return &daemon{Engine: e, store: store, config: config}
}

// startEngine is registered after the engine's collaborators, so its stop hook runs before theirs.
func startEngine(lc fx.Lifecycle, opts options, e *engine.Engine) {
	e.OnRadioStateChange(func(state connector.RadioState) {
		log.Info("Radio is %s", state)
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := e.Start(ctx); err != nil {
				return err
			}
			if opts.startOn {
				return e.TurnOn()
			}
			return nil
		},
		OnStop: func(context.Context) error {
			e.Close()
			return nil
		},
	})
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

func serveMetrics(lc fx.Lifecycle, config *cli.Config, reg *prometheus.Registry) {
	if config.MetricsAddr == "" || config.MetricsAddr == "off" {
		return
	}
	server := &http.Server{
		Addr:              config.MetricsAddr,
		Handler:           metricsHandler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			listener, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return err
			}
			log.Info("Serving metrics on http://%s/metrics", listener.Addr())
			go func() {
				if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("Metrics server stopped: %s", err)
				}
			}()
			return nil
		},
		OnStop: server.Shutdown,
	})
}
