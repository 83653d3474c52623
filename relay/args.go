package relay

import (
	"errors"
	"fmt"

	"github.com/lomik/zapwriter"

	"github.com/go-graphite/udp-relay/datagram"
	"github.com/go-graphite/udp-relay/sender"
)

// Usage of legacy positional invocation
const Usage = "usage: %s port dst_ip\n"

// ConfigFromArgs builds config for "PORT DST_IPV4" invocation: listen on all
// interfaces, forward to DST_IPV4 on the same port. Logs go to stderr
func ConfigFromArgs(args []string) (*Config, error) {
	if len(args) != 2 {
		return nil, &datagram.ArgumentError{
			Reason: fmt.Sprintf("expected 2 arguments (port dst_ip), got %d", len(args)),
		}
	}

	port, err := datagram.ParsePort(args[0])
	if err != nil {
		return nil, err
	}

	dst, err := datagram.NewEndpoint(args[1], port)
	if err != nil {
		return nil, err
	}

	cfg := NewConfig()
	cfg.Listen.Listen = fmt.Sprintf("0.0.0.0:%d", port)
	cfg.Destinations = []*sender.Options{sender.NewOptions(dst.String())}
	cfg.Logging = []zapwriter.Config{NewStderrLoggingConfig()}

	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsArgumentError reports whether err is caused by bad invocation
func IsArgumentError(err error) bool {
	var argErr *datagram.ArgumentError
	return errors.As(err, &argErr)
}
