package relay

import (
	"net"
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServe serves handler on addr. Returned func closes listener
func HTTPServe(addr string, handler http.Handler) (net.Addr, func(), error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	tcpListener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, nil, err
	}

	srv := &http.Server{
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
	}

	go srv.Serve(tcpListener)

	return tcpListener.Addr(), func() { srv.Close() }, nil
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", gziphandler.GzipHandler(
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	))
	return mux
}

func serveMetrics(addr string, reg *prometheus.Registry) (func(), error) {
	_, closer, err := HTTPServe(addr, metricsHandler(reg))
	return closer, err
}
