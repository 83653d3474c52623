package listener

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-graphite/udp-relay/datagram"
	"github.com/go-graphite/udp-relay/qa"
)

type udpTestCase struct {
	*testing.T
	listener *UDP
	conn     net.Conn
	rcvChan  chan *datagram.Datagram
}

func newUDPTestCaseWithSize(t *testing.T, maxSize int, opts ...Option) *udpTestCase {
	test := &udpTestCase{
		T:       t,
		rcvChan: make(chan *datagram.Datagram, 128),
	}

	options := NewOptions()
	options.Listen = "127.0.0.1:0"
	options.MaxDatagramSize = maxSize

	var err error
	test.listener, err = New("udp", options, func(d *datagram.Datagram) {
		test.rcvChan <- d
	}, opts...)
	if err != nil {
		t.Fatal(err)
	}

	test.conn, err = net.Dial("udp", test.listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	return test
}

func newUDPTestCase(t *testing.T) *udpTestCase {
	return newUDPTestCaseWithSize(t, datagram.MaxSize)
}

func (test *udpTestCase) Finish() {
	if test.conn != nil {
		test.conn.Close()
		test.conn = nil
	}
	if test.listener != nil {
		test.listener.Stop()
		test.listener = nil
	}
}

func (test *udpTestCase) Send(payload []byte) {
	if _, err := test.conn.Write(payload); err != nil {
		test.Fatal(err)
	}
}

func (test *udpTestCase) Recv() *datagram.Datagram {
	select {
	case d := <-test.rcvChan:
		return d
	case <-time.After(time.Second):
		test.Fatalf("datagram not received")
	}
	return nil
}

func (test *udpTestCase) NothingReceived() {
	select {
	case d := <-test.rcvChan:
		test.Fatalf("unexpected datagram %q", d.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUDPReceive(t *testing.T) {
	test := newUDPTestCase(t)
	defer test.Finish()

	test.Send([]byte("hello"))

	d := test.Recv()
	assert.Equal(t, []byte("hello"), d.Payload)
	assert.Equal(t, test.conn.LocalAddr().String(), d.Peer.String())
}

func TestUDPOrder(t *testing.T) {
	test := newUDPTestCase(t)
	defer test.Finish()

	for i := 0; i < 50; i++ {
		test.Send([]byte{byte(i)})
	}

	for i := 0; i < 50; i++ {
		assert.Equal(t, []byte{byte(i)}, test.Recv().Payload)
	}
}

func TestUDPZeroLength(t *testing.T) {
	test := newUDPTestCase(t)
	defer test.Finish()

	test.Send([]byte{})

	d := test.Recv()
	assert.Equal(t, 0, d.Len())
}

func TestUDPMaxSize(t *testing.T) {
	test := newUDPTestCaseWithSize(t, 16)
	defer test.Finish()

	exact := bytes.Repeat([]byte("x"), 16)
	test.Send(exact)
	assert.Equal(t, exact, test.Recv().Payload)

	test.Send(bytes.Repeat([]byte("y"), 17))
	test.NothingReceived()

	// loop keeps running after rejection
	test.Send([]byte("after"))
	assert.Equal(t, []byte("after"), test.Recv().Payload)

	stat := map[string]float64{}
	test.listener.Stat(func(metric string, value float64) {
		stat[metric] = value
	})

	assert.Equal(t, float64(2), stat["datagramsReceived"])
	assert.Equal(t, float64(21), stat["bytesReceived"])
	assert.Equal(t, float64(1), stat["oversizeDropped"])
	assert.Equal(t, float64(0), stat["errors"])
}

func TestUDPBuffersNotShared(t *testing.T) {
	test := newUDPTestCase(t)
	defer test.Finish()

	test.Send([]byte("first"))
	test.Send([]byte("2nd"))

	first := test.Recv()
	second := test.Recv()

	assert.Equal(t, []byte("first"), first.Payload)
	assert.Equal(t, []byte("2nd"), second.Payload)
	assert.Equal(t, 5, cap(first.Payload))
}

func TestUDPPrometheus(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()

	test := newUDPTestCaseWithSize(t, datagram.MaxSize, Registerer(reg))
	defer test.Finish()

	test.Send([]byte("abc"))
	test.Recv()

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			values[f.GetName()] += m.GetCounter().GetValue()
		}
	}

	assert.Equal(t, float64(1), values["relay_datagrams_received_total"])
	assert.Equal(t, float64(3), values["relay_received_bytes_total"])
	assert.Equal(t, float64(0), values["relay_datagrams_oversize_total"])
}

func TestUDPBindError(t *testing.T) {
	busy := qa.NewReceiver(t)
	defer busy.Close()

	options := NewOptions()
	options.Listen = busy.Addr()

	logger, out := qa.Logger()

	_, err := New("udp", options, func(*datagram.Datagram) {}, Logger(logger))
	require.Error(t, err)

	var bindErr *datagram.BindError
	assert.True(t, errors.As(err, &bindErr), err.Error())
	assert.NotContains(t, out(), "listening")
}

func TestUDPBadOptions(t *testing.T) {
	options := NewOptions()
	options.MaxDatagramSize = 0

	_, err := New("udp", options, func(*datagram.Datagram) {})
	var argErr *datagram.ArgumentError
	assert.True(t, errors.As(err, &argErr))

	options = NewOptions()
	options.Listen = "not a host:port"
	_, err = New("udp", options, func(*datagram.Datagram) {})
	assert.True(t, errors.As(err, &argErr))
}

func TestStopUDP(t *testing.T) {
	assert := assert.New(t)

	options := NewOptions()
	options.Listen = "127.0.0.1:0"

	for i := 0; i < 10; i++ {
		r, err := New("udp", options, func(*datagram.Datagram) {})
		assert.NoError(err)
		options.Listen = r.Addr().String() // listen same port in next iteration
		r.Stop()
	}
}
