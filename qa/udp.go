package qa

import (
	"net"
	"testing"
	"time"
)

// Receiver is loopback UDP socket standing in for relay destination
type Receiver struct {
	t    *testing.T
	conn *net.UDPConn
}

// NewReceiver binds random loopback port
func NewReceiver(t *testing.T) *Receiver {
	return NewReceiverAt(t, "127.0.0.1:0")
}

// NewReceiverAt binds addr, e.g. one returned by ClosedPort
func NewReceiverAt(t *testing.T, addr string) *Receiver {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		t.Fatal(err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		t.Fatal(err)
	}
	return &Receiver{t: t, conn: conn}
}

// Addr returns "127.0.0.1:port"
func (r *Receiver) Addr() string {
	return r.conn.LocalAddr().String()
}

// Port ...
func (r *Receiver) Port() int {
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

// Recv waits for next datagram. Fails test after timeout
func (r *Receiver) Recv(timeout time.Duration) []byte {
	r.t.Helper()

	payload, ok := r.TryRecv(timeout)
	if !ok {
		r.t.Fatalf("no datagram received on %s in %s", r.Addr(), timeout)
	}
	return payload
}

// TryRecv waits for next datagram, ok is false on timeout
func (r *Receiver) TryRecv(timeout time.Duration) ([]byte, bool) {
	buf := make([]byte, 65536)

	if err := r.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		r.t.Fatal(err)
	}

	n, _, err := r.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, false
		}
		r.t.Fatal(err)
	}

	return buf[:n], true
}

// Close ...
func (r *Receiver) Close() {
	r.conn.Close()
}

// ClosedPort returns loopback address nobody listens on
func ClosedPort(t *testing.T) string {
	r := NewReceiver(t)
	addr := r.Addr()
	r.Close()
	return addr
}

// Send writes payload to addr from a fresh socket
func Send(t *testing.T, addr string, payload []byte) {
	t.Helper()

	conn, err := net.Dial("udp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		t.Fatal(err)
	}
}
