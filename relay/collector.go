package relay

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/lomik/stop"
	"github.com/lomik/zapwriter"
	"go.uber.org/zap"

	"github.com/go-graphite/udp-relay/helper"
	"github.com/go-graphite/udp-relay/points"
)

type statModule struct {
	name string
	stat func(helper.StatCallback)
}

// Collector periodically gathers module counters and ships them as graphite points
type Collector struct {
	stop.Struct
	graphPrefix    string
	metricInterval time.Duration
	endpoint       string
	data           chan *points.Point
	modules        []statModule
	logger         *zap.Logger
}

// metric path part safe for graphite
func metricName(s string) string {
	return strings.NewReplacer(".", "_", ":", "_", "/", "_", " ", "_", "[", "", "]", "").Replace(s)
}

// expandPrefix substitutes {host}
func expandPrefix(prefix string) string {
	if !strings.Contains(prefix, "{host}") {
		return prefix
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	return strings.Replace(prefix, "{host}", metricName(hostname), -1)
}

// NewCollector creates and starts collector. Caller holds app lock
func NewCollector(app *App) *Collector {
	c := &Collector{
		graphPrefix:    expandPrefix(app.Config.Common.GraphPrefix),
		metricInterval: app.Config.Common.MetricInterval.Value(),
		data:           make(chan *points.Point, 4096),
		endpoint:       app.Config.Common.MetricEndpoint,
		logger:         zapwriter.Logger("stat"),
	}

	if app.Listener != nil {
		c.modules = append(c.modules, statModule{name: "listener", stat: app.Listener.Stat})
	}
	for _, dst := range app.Destinations {
		c.modules = append(c.modules, statModule{
			name: "destination." + metricName(dst.Name()),
			stat: dst.Stat,
		})
	}

	c.Start()

	// collector worker
	c.Go(func(exit chan struct{}) {
		ticker := time.NewTicker(c.metricInterval)
		defer ticker.Stop()

		for {
			select {
			case <-exit:
				return
			case <-ticker.C:
				c.collect()
			}
		}
	})

	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		c.logger.Error("metric-endpoint parse error", zap.Error(err))
		c.endpoint = MetricEndpointLocal
	}

	if c.endpoint == MetricEndpointLocal {
		c.Go(func(exit chan struct{}) {
			for {
				select {
				case <-exit:
					return
				case p := <-c.data:
					c.logger.Info("stat", zap.String("metric", p.Metric), zap.Float64("value", p.Value))
				}
			}
		})
	} else {
		chunkSize := 32768
		if endpoint.Scheme == "udp" {
			chunkSize = 1000 // mtu friendly
		}

		c.Go(func(exit chan struct{}) {
			points.Glue(exit, c.data, chunkSize, time.Second, func(chunk []byte) {
				c.send(exit, endpoint, chunk)
			})
		})
	}

	return c
}

func (c *Collector) send(exit chan struct{}, endpoint *url.URL, chunk []byte) {
	var conn net.Conn
	var err error
	defaultTimeout := 5 * time.Second

	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-exit:
			return
		default:
		}

		// close old broken connection
		if conn != nil {
			conn.Close()
			conn = nil
		}

		conn, err = net.DialTimeout(endpoint.Scheme, endpoint.Host, defaultTimeout)
		if err != nil {
			c.logger.Error("dial failed", zap.String("endpoint", c.endpoint), zap.Error(err))
			if !sleepOrExit(exit, time.Second) {
				return
			}
			continue
		}

		if err = conn.SetDeadline(time.Now().Add(defaultTimeout)); err != nil {
			c.logger.Error("conn.SetDeadline failed", zap.Error(err))
			if !sleepOrExit(exit, time.Second) {
				return
			}
			continue
		}

		if _, err = conn.Write(chunk); err != nil {
			c.logger.Error("conn.Write failed", zap.Error(err))
			if !sleepOrExit(exit, time.Second) {
				return
			}
			continue
		}

		return
	}
}

func sleepOrExit(exit chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-exit:
		return false
	}
}

func (c *Collector) collect() {
	for _, m := range c.modules {
		module := m.name
		m.stat(func(metric string, value float64) {
			key := fmt.Sprintf("%s.%s.%s", c.graphPrefix, module, metric)
			select {
			case c.data <- points.NowPoint(key, value):
				// pass
			default:
				c.logger.Warn("send queue is full. Metric dropped",
					zap.String("key", key),
					zap.Float64("value", value),
				)
			}
		})
	}
}
