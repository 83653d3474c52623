package sender

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/lomik/stop"
	"github.com/lomik/zapwriter"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"github.com/go-graphite/udp-relay/datagram"
	"github.com/go-graphite/udp-relay/helper"
)

// ErrQueueFull is returned by Forward when queued destination can't accept datagram
var ErrQueueFull = errors.New("send queue is full")

// Options of one destination
type Options struct {
	Name         string `toml:"name"`
	Address      string `toml:"address"`
	BufferSize   int    `toml:"buffer-size"`
	MaxPerSecond int    `toml:"max-per-second"`
	TTL          int    `toml:"ttl"`
}

// NewOptions returns defaults for address
func NewOptions(address string) *Options {
	return &Options{
		Address: address,
	}
}

// Validate ...
func (o *Options) Validate() error {
	if _, err := datagram.ParseEndpoint(o.Address); err != nil {
		return err
	}
	if o.BufferSize < 0 {
		return fmt.Errorf("destination %s: negative buffer-size", o.Address)
	}
	if o.MaxPerSecond < 0 {
		return fmt.Errorf("destination %s: negative max-per-second", o.Address)
	}
	if o.MaxPerSecond > 0 && o.BufferSize == 0 {
		return fmt.Errorf("destination %s: max-per-second requires buffer-size > 0", o.Address)
	}
	if o.TTL < 0 || o.TTL > 255 {
		return fmt.Errorf("destination %s: ttl %d out of range [0, 255]", o.Address, o.TTL)
	}
	return nil
}

// UDP forwards datagrams to one destination endpoint over its own unconnected socket.
// Without buffer every Forward is a synchronous send. With buffer Forward only
// enqueues and a worker goroutine sends, dropping datagrams when queue is full
type UDP struct {
	stop.Struct
	name     string
	endpoint datagram.Endpoint
	addr     *net.UDPAddr
	conn     *net.UDPConn
	queue    chan *datagram.Datagram
	limiter  *helper.SendLimiter
	logger   *zap.Logger
	metrics  metrics

	sent      uint64
	bytesSent uint64
	errors    uint64
	dropped   uint64
}

type metrics struct {
	sent    prometheus.Counter
	bytes   prometheus.Counter
	errors  prometheus.Counter
	dropped prometheus.Counter
}

// Option applied by New before socket is created
type Option func(*UDP)

// Registerer creates option exporting destination counters to prometheus
func Registerer(reg prometheus.Registerer) Option {
	return func(s *UDP) {
		s.initPrometheus(reg)
	}
}

// Logger creates option replacing default zapwriter logger
func Logger(logger *zap.Logger) Option {
	return func(s *UDP) {
		s.logger = logger
	}
}

// New creates destination socket. Any failure is *datagram.SocketCreateError
// except malformed options which are *datagram.ArgumentError
func New(options *Options, opts ...Option) (*UDP, error) {
	if err := options.Validate(); err != nil {
		var argErr *datagram.ArgumentError
		if errors.As(err, &argErr) {
			return nil, err
		}
		return nil, &datagram.ArgumentError{Arg: options.Address, Reason: err.Error()}
	}

	endpoint, _ := datagram.ParseEndpoint(options.Address)

	name := options.Name
	if name == "" {
		name = endpoint.String()
	}

	s := &UDP{
		name:     name,
		endpoint: endpoint,
		logger:   zapwriter.Logger("sender").With(zap.String("destination", name)),
	}

	if options.BufferSize > 0 {
		s.queue = make(chan *datagram.Datagram, options.BufferSize)
		s.limiter = helper.NewSendLimiter(options.MaxPerSecond)
	}

	for _, optApply := range opts {
		optApply(s)
	}

	err := s.StartFunc(func() error {
		addr, err := endpoint.UDPAddr()
		if err != nil {
			return &datagram.SocketCreateError{Addr: endpoint.String(), Err: err}
		}

		// unconnected socket: ICMP errors caused by one datagram are never
		// reported on a later write
		network := "udp6"
		if addr.IP.To4() != nil {
			network = "udp4"
		}

		s.conn, err = net.ListenUDP(network, nil)
		if err != nil {
			return &datagram.SocketCreateError{Addr: endpoint.String(), Err: err}
		}
		s.addr = addr

		if options.TTL > 0 && network == "udp4" {
			if err = ipv4.NewPacketConn(s.conn).SetTTL(options.TTL); err != nil {
				s.conn.Close()
				return &datagram.SocketCreateError{Addr: endpoint.String(), Err: err}
			}
		}

		if s.queue != nil {
			s.Go(s.sendWorker)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *UDP) initPrometheus(reg prometheus.Registerer) {
	labels := prometheus.Labels{"destination": s.name}

	s.metrics = metrics{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "relay_forwarded_total",
			Help:        "Datagrams successfully sent to destination",
			ConstLabels: labels,
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "relay_forwarded_bytes_total",
			Help:        "Payload bytes sent to destination",
			ConstLabels: labels,
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "relay_send_errors_total",
			Help:        "Failed send attempts",
			ConstLabels: labels,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "relay_dropped_total",
			Help:        "Datagrams dropped because destination queue was full",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(
		s.metrics.sent,
		s.metrics.bytes,
		s.metrics.errors,
		s.metrics.dropped,
	)
}

// Name of destination, used in logs and metrics
func (s *UDP) Name() string {
	return s.name
}

// Endpoint ...
func (s *UDP) Endpoint() datagram.Endpoint {
	return s.endpoint
}

// Queued returns true if destination sends from worker goroutine
func (s *UDP) Queued() bool {
	return s.queue != nil
}

// Forward attempts delivery of d exactly once. In queued mode send errors are
// reported by worker, Forward only reports ErrQueueFull
func (s *UDP) Forward(d *datagram.Datagram) error {
	if s.queue == nil {
		return s.send(d)
	}

	select {
	case s.queue <- d:
		return nil
	default:
		atomic.AddUint64(&s.dropped, 1)
		if s.metrics.dropped != nil {
			s.metrics.dropped.Inc()
		}
		return &datagram.SendError{Destination: s.name, Size: d.Len(), Err: ErrQueueFull}
	}
}

func (s *UDP) send(d *datagram.Datagram) error {
	_, err := s.conn.WriteToUDP(d.Payload, s.addr)
	if err != nil {
		atomic.AddUint64(&s.errors, 1)
		if s.metrics.errors != nil {
			s.metrics.errors.Inc()
		}
		return &datagram.SendError{Destination: s.name, Size: d.Len(), Err: err}
	}

	atomic.AddUint64(&s.sent, 1)
	atomic.AddUint64(&s.bytesSent, uint64(d.Len()))
	if s.metrics.sent != nil {
		s.metrics.sent.Inc()
		s.metrics.bytes.Add(float64(d.Len()))
	}
	return nil
}

func (s *UDP) sendWorker(exit chan struct{}) {
	for {
		select {
		case <-exit:
			return
		case d := <-s.queue:
			if !s.limiter.Wait(exit) {
				return
			}
			if err := s.send(d); err != nil {
				s.logger.Warn("send failed", zap.Error(err))
			}
		}
	}
}

// Stop closes destination socket. Queued datagrams not yet sent are discarded
func (s *UDP) Stop() {
	s.StopFunc(func() {})
	if s.conn != nil {
		s.conn.Close()
	}
}

// Stat sends internal statistics to collector
func (s *UDP) Stat(send helper.StatCallback) {
	helper.SendAndSubstractUint64("sent", &s.sent, send)
	helper.SendAndSubstractUint64("bytesSent", &s.bytesSent, send)
	helper.SendAndSubstractUint64("errors", &s.errors, send)
	helper.SendAndSubstractUint64("dropped", &s.dropped, send)

	if s.queue != nil {
		helper.SendGauge("queueLen", len(s.queue), send)
		helper.SendGauge("queueCap", cap(s.queue), send)
	}
}
