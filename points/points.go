package points

import (
	"fmt"
	"io"
	"time"
)

// Point is one internal relay metric value
type Point struct {
	Metric    string
	Value     float64
	Timestamp int64
}

// OnePoint creates Point instance
func OnePoint(metric string, value float64, timestamp int64) *Point {
	return &Point{
		Metric:    metric,
		Value:     value,
		Timestamp: timestamp,
	}
}

// NowPoint creates OnePoint with now timestamp
func NowPoint(metric string, value float64) *Point {
	return OnePoint(metric, value, time.Now().Unix())
}

// String returns graphite plaintext line including trailing "\n"
func (p *Point) String() string {
	return fmt.Sprintf("%s %v %d\n", p.Metric, p.Value, p.Timestamp)
}

// WriteTo writes plaintext line to w
func (p *Point) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, p.String())
	return int64(n), err
}

// Eq ...
func (p *Point) Eq(other *Point) bool {
	if other == nil {
		return false
	}
	return p.Metric == other.Metric &&
		p.Value == other.Value &&
		p.Timestamp == other.Timestamp
}
