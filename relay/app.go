package relay

import (
	"net"
	"runtime"
	"sync"

	"github.com/lomik/zapwriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/go-graphite/udp-relay/datagram"
	"github.com/go-graphite/udp-relay/listener"
	"github.com/go-graphite/udp-relay/sender"
)

// LoggerNames allowed in [[logging]] sections
var LoggerNames = []string{"main", "relay", "listener", "sender", "stat"}

// App is the relay: one listener fanning out to every destination
type App struct {
	sync.RWMutex
	ConfigFilename string
	Config         *Config
	Listener       *listener.UDP
	Destinations   []*sender.UDP
	Collector      *Collector
	Registry       *prometheus.Registry
	stopMetrics    func()
	exit           chan bool
}

// New App instance
func New(configFilename string) *App {
	app := &App{
		ConfigFilename: configFilename,
		Config:         NewConfig(),
	}
	return app
}

// NewWithConfig creates App from already parsed config
func NewWithConfig(cfg *Config) *App {
	return &App{
		Config: cfg,
	}
}

// ParseConfig loads config from ConfigFilename
func (app *App) ParseConfig() error {
	app.Lock()
	defer app.Unlock()

	cfg, err := ParseConfig(app.ConfigFilename)
	if err != nil {
		return err
	}

	app.Config = cfg
	return nil
}

// Addr returns bound listener address
func (app *App) Addr() net.Addr {
	app.RLock()
	defer app.RUnlock()

	if app.Listener == nil {
		return nil
	}
	return app.Listener.Addr()
}

// fanout returns receive callback forwarding every datagram to every destination.
// Failure on one destination is logged and never affects others
func fanout(destinations []*sender.UDP, logger *zap.Logger) func(*datagram.Datagram) {
	return func(d *datagram.Datagram) {
		for _, dst := range destinations {
			if err := dst.Forward(d); err != nil {
				logger.Warn("forward failed",
					zap.String("destination", dst.Name()),
					zap.String("peer", d.Peer.String()),
					zap.Error(err),
				)
			}
		}
	}
}

func (app *App) stopAll() {
	if app.Listener != nil {
		app.Listener.Stop()
		app.Listener = nil
		zapwriter.Logger("listener").Debug("finished")
	}

	for _, dst := range app.Destinations {
		dst.Stop()
	}
	app.Destinations = nil

	if app.Collector != nil {
		app.Collector.Stop()
		app.Collector = nil
		zapwriter.Logger("stat").Debug("finished")
	}

	if app.stopMetrics != nil {
		app.stopMetrics()
		app.stopMetrics = nil
	}

	if app.exit != nil {
		close(app.exit)
		app.exit = nil
	}
}

// Stop closes listener socket, destinations and internal services
func (app *App) Stop() {
	app.Lock()
	defer app.Unlock()

	app.stopAll()
}

// Start creates destination sockets, binds listener and starts internal services.
// Errors are *datagram.SocketCreateError, *datagram.BindError or *datagram.ArgumentError
func (app *App) Start() (err error) {
	app.Lock()
	defer app.Unlock()

	defer func() {
		if err != nil {
			app.stopAll()
		}
	}()

	conf := app.Config

	runtime.GOMAXPROCS(conf.Common.MaxCPU)

	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	logger := zapwriter.Logger("relay")

	for _, opts := range conf.Destinations {
		var dst *sender.UDP
		dst, err = sender.New(opts, sender.Registerer(app.Registry))
		if err != nil {
			return
		}
		app.Destinations = append(app.Destinations, dst)

		logger.Info("destination ready",
			zap.String("destination", dst.Name()),
			zap.String("address", dst.Endpoint().String()),
			zap.Bool("queued", dst.Queued()),
		)
	}

	// destinations slice is not modified while listener runs
	destinations := make([]*sender.UDP, len(app.Destinations))
	copy(destinations, app.Destinations)

	app.Listener, err = listener.New(
		"listener",
		&conf.Listen,
		fanout(destinations, logger),
		listener.Registerer(app.Registry),
	)
	if err != nil {
		return
	}

	if conf.Prometheus.Enabled {
		app.stopMetrics, err = serveMetrics(conf.Prometheus.Listen, app.Registry)
		if err != nil {
			return
		}
		logger.Info("prometheus metrics served", zap.String("listen", conf.Prometheus.Listen))
	}

	app.Collector = NewCollector(app)

	app.exit = make(chan bool)

	return
}

// Loop blocks until Stop
func (app *App) Loop() {
	app.RLock()
	exitChan := app.exit
	app.RUnlock()

	if exitChan != nil {
		<-exitChan
	}
}
