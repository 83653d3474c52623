package datagram

import (
	"fmt"
	"net"
	"strconv"
)

// MaxSize is default upper bound of forwarded payload
const MaxSize = 4096

// MaxUDPPayload is the largest payload an IPv4 UDP datagram can carry
const MaxUDPPayload = 65507

// Datagram received from listener socket. Payload is never modified after receive
type Datagram struct {
	Peer    *net.UDPAddr
	Payload []byte
}

// New creates Datagram instance
func New(peer *net.UDPAddr, payload []byte) *Datagram {
	return &Datagram{
		Peer:    peer,
		Payload: payload,
	}
}

// Len returns payload size
func (d *Datagram) Len() int {
	return len(d.Payload)
}

// Endpoint is immutable (host, port) destination
type Endpoint struct {
	host string
	port int
}

// NewEndpoint creates endpoint from IPv4 dotted-quad address and port
func NewEndpoint(ip string, port int) (Endpoint, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return Endpoint{}, &ArgumentError{Arg: ip, Reason: "not an IPv4 address"}
	}

	if err := checkPort(port); err != nil {
		return Endpoint{}, &ArgumentError{Arg: strconv.Itoa(port), Reason: err.Error()}
	}

	return Endpoint{host: parsed.To4().String(), port: port}, nil
}

// ParseEndpoint parses "host:port"
func ParseEndpoint(address string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return Endpoint{}, &ArgumentError{Arg: address, Reason: err.Error()}
	}

	if host == "" {
		return Endpoint{}, &ArgumentError{Arg: address, Reason: "empty host"}
	}

	port, err := ParsePort(portStr)
	if err != nil {
		return Endpoint{}, err
	}

	return Endpoint{host: host, port: port}, nil
}

// ParsePort parses decimal port number in range 1..65535
func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ArgumentError{Arg: s, Reason: "port is not a number"}
	}

	if err = checkPort(port); err != nil {
		return 0, &ArgumentError{Arg: s, Reason: err.Error()}
	}

	return port, nil
}

func checkPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range", port)
	}
	return nil
}

// Host ...
func (e Endpoint) Host() string {
	return e.host
}

// Port ...
func (e Endpoint) Port() int {
	return e.port
}

// IsZero returns true for unset endpoint
func (e Endpoint) IsZero() bool {
	return e.host == "" && e.port == 0
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.host, strconv.Itoa(e.port))
}

// UDPAddr resolves endpoint
func (e Endpoint) UDPAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", e.String())
}
