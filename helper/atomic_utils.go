package helper

import "sync/atomic"

// StatCallback receives one module metric
type StatCallback func(metric string, value float64)

// SendAndSubstractUint64 reports counter and substracts reported value from it.
// Increments made between load and substract are kept for next report
func SendAndSubstractUint64(metric string, v *uint64, send StatCallback) {
	res := atomic.LoadUint64(v)
	atomic.AddUint64(v, ^uint64(res-1))
	send(metric, float64(res))
}

// SendGauge reports value as is
func SendGauge(metric string, value int, send StatCallback) {
	send(metric, float64(value))
}
