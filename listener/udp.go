package listener

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/lomik/stop"
	"github.com/lomik/zapwriter"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/go-graphite/udp-relay/datagram"
	"github.com/go-graphite/udp-relay/helper"
)

// Options of UDP listener
type Options struct {
	Listen          string `toml:"listen"`
	MaxDatagramSize int    `toml:"max-datagram-size"`
	LogOversize     bool   `toml:"log-oversize"`
}

// NewOptions returns defaults
func NewOptions() *Options {
	return &Options{
		Listen:          "0.0.0.0:9999",
		MaxDatagramSize: datagram.MaxSize,
		LogOversize:     true,
	}
}

// Validate ...
func (o *Options) Validate() error {
	if o.Listen == "" {
		return fmt.Errorf("listen address is empty")
	}
	if o.MaxDatagramSize < 1 || o.MaxDatagramSize > datagram.MaxUDPPayload {
		return fmt.Errorf("max-datagram-size %d out of range [1, %d]", o.MaxDatagramSize, datagram.MaxUDPPayload)
	}
	return nil
}

// UDP receives datagrams from bound socket and passes every accepted one to out
type UDP struct {
	stop.Struct
	out     func(*datagram.Datagram)
	name    string
	maxSize int

	datagramsReceived uint64
	bytesReceived     uint64
	oversizeDropped   uint64
	errors            uint64

	logOversize bool
	conn        *net.UDPConn
	logger      *zap.Logger
	metrics     metrics
}

type metrics struct {
	received prometheus.Counter
	bytes    prometheus.Counter
	oversize prometheus.Counter
	errors   prometheus.Counter
}

// Option applied by New before socket is bound
type Option func(*UDP)

// Registerer creates option exporting listener counters to prometheus
func Registerer(reg prometheus.Registerer) Option {
	return func(rcv *UDP) {
		rcv.initPrometheus(reg)
	}
}

// Logger creates option replacing default zapwriter logger
func Logger(logger *zap.Logger) Option {
	return func(rcv *UDP) {
		rcv.logger = logger
	}
}

// New binds listener and starts receive loop. Bind failures are *datagram.BindError,
// other socket failures *datagram.SocketCreateError
func New(name string, options *Options, out func(*datagram.Datagram), opts ...Option) (*UDP, error) {
	if err := options.Validate(); err != nil {
		return nil, &datagram.ArgumentError{Arg: options.Listen, Reason: err.Error()}
	}

	addr, err := net.ResolveUDPAddr("udp", options.Listen)
	if err != nil {
		return nil, &datagram.ArgumentError{Arg: options.Listen, Reason: err.Error()}
	}

	rcv := &UDP{
		out:         out,
		name:        name,
		maxSize:     options.MaxDatagramSize,
		logOversize: options.LogOversize,
		logger:      zapwriter.Logger(name),
	}

	for _, optApply := range opts {
		optApply(rcv)
	}

	if err = rcv.Listen(addr); err != nil {
		return nil, err
	}

	return rcv, nil
}

func (rcv *UDP) initPrometheus(reg prometheus.Registerer) {
	labels := prometheus.Labels{"listener": rcv.name}

	rcv.metrics = metrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "relay_datagrams_received_total",
			Help:        "Datagrams accepted for forwarding",
			ConstLabels: labels,
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "relay_received_bytes_total",
			Help:        "Payload bytes accepted for forwarding",
			ConstLabels: labels,
		}),
		oversize: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "relay_datagrams_oversize_total",
			Help:        "Datagrams rejected for exceeding max datagram size",
			ConstLabels: labels,
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "relay_receive_errors_total",
			Help:        "Socket read errors",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(
		rcv.metrics.received,
		rcv.metrics.bytes,
		rcv.metrics.oversize,
		rcv.metrics.errors,
	)
}

// Addr returns binded socket address. For bind port 0 in tests
func (rcv *UDP) Addr() net.Addr {
	if rcv.conn == nil {
		return nil
	}
	return rcv.conn.LocalAddr()
}

// Stat sends internal statistics to collector
func (rcv *UDP) Stat(send helper.StatCallback) {
	helper.SendAndSubstractUint64("datagramsReceived", &rcv.datagramsReceived, send)
	helper.SendAndSubstractUint64("bytesReceived", &rcv.bytesReceived, send)
	helper.SendAndSubstractUint64("oversizeDropped", &rcv.oversizeDropped, send)
	helper.SendAndSubstractUint64("errors", &rcv.errors, send)
}

func (rcv *UDP) receiveWorker(exit chan struct{}) {
	defer rcv.conn.Close()

	for {
		// one extra byte tells oversized datagram apart from exactly max sized
		buf := make([]byte, rcv.maxSize+1)

		rlen, peer, err := rcv.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}

			select {
			case <-exit:
				return
			default:
			}

			atomic.AddUint64(&rcv.errors, 1)
			if rcv.metrics.errors != nil {
				rcv.metrics.errors.Inc()
			}
			rcv.logger.Error("read error", zap.Error(err))
			continue
		}

		if rlen > rcv.maxSize {
			atomic.AddUint64(&rcv.oversizeDropped, 1)
			if rcv.metrics.oversize != nil {
				rcv.metrics.oversize.Inc()
			}
			if rcv.logOversize {
				rcv.logger.Warn("oversize datagram rejected",
					zap.String("peer", peer.String()),
					zap.Int("max", rcv.maxSize),
				)
			}
			continue
		}

		atomic.AddUint64(&rcv.datagramsReceived, 1)
		atomic.AddUint64(&rcv.bytesReceived, uint64(rlen))
		if rcv.metrics.received != nil {
			rcv.metrics.received.Inc()
			rcv.metrics.bytes.Add(float64(rlen))
		}

		rcv.out(datagram.New(peer, buf[:rlen:rlen]))
	}
}

// Listen binds port and runs receive loop until Stop
func (rcv *UDP) Listen(addr *net.UDPAddr) error {
	return rcv.StartFunc(func() error {
		var err error
		rcv.conn, err = net.ListenUDP("udp", addr)
		if err != nil {
			return datagram.ListenError(addr.String(), err)
		}

		rcv.Go(func(exit chan struct{}) {
			<-exit
			rcv.conn.Close()
		})

		rcv.Go(rcv.receiveWorker)

		rcv.logger.Info("listening", zap.String("addr", rcv.conn.LocalAddr().String()))

		return nil
	})
}
