package datagram

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestNewEndpoint(t *testing.T) {
	assert := assert.New(t)

	e, err := NewEndpoint("127.0.0.1", 9999)
	assert.NoError(err)
	assert.Equal("127.0.0.1", e.Host())
	assert.Equal(9999, e.Port())
	assert.Equal("127.0.0.1:9999", e.String())
	assert.False(e.IsZero())

	bad := []struct {
		ip   string
		port int
	}{
		{"", 9999},
		{"localhost", 9999},
		{"::1", 9999},
		{"300.1.1.1", 9999},
		{"10.0.0.1", 0},
		{"10.0.0.1", 65536},
	}

	for _, c := range bad {
		_, err := NewEndpoint(c.ip, c.port)
		var argErr *ArgumentError
		assert.True(errors.As(err, &argErr), "%s:%d", c.ip, c.port)
	}
}

func TestParseEndpoint(t *testing.T) {
	assert := assert.New(t)

	e, err := ParseEndpoint("localhost:2003")
	assert.NoError(err)
	assert.Equal("localhost", e.Host())
	assert.Equal(2003, e.Port())

	e, err = ParseEndpoint("[::1]:53")
	assert.NoError(err)
	assert.Equal("[::1]:53", e.String())

	for _, s := range []string{"", "localhost", ":2003", "host:", "host:abc", "host:70000"} {
		_, err := ParseEndpoint(s)
		assert.Error(err, s)
	}

	assert.True(Endpoint{}.IsZero())
}

func TestEndpointUDPAddr(t *testing.T) {
	e, err := NewEndpoint("127.0.0.1", 2003)
	require.NoError(t, err)

	addr, err := e.UDPAddr()
	require.NoError(t, err)
	assert.Equal(t, 2003, addr.Port)
	assert.True(t, addr.IP.IsLoopback())
}

func TestParsePort(t *testing.T) {
	port, err := ParsePort("9999")
	assert.NoError(t, err)
	assert.Equal(t, 9999, port)

	for _, s := range []string{"", "-1", "0", "65536", "99x"} {
		_, err := ParsePort(s)
		assert.Error(t, err, s)
	}
}

func TestDatagram(t *testing.T) {
	d := New(nil, []byte("hello"))
	assert.Equal(t, 5, d.Len())

	d = New(nil, []byte{})
	assert.Equal(t, 0, d.Len())
}

func TestListenError(t *testing.T) {
	assert := assert.New(t)

	inUse := &os.SyscallError{Syscall: "bind", Err: unix.EADDRINUSE}
	err := ListenError(":9999", fmt.Errorf("listen udp :9999: %w", inUse))

	var bindErr *BindError
	assert.True(errors.As(err, &bindErr))
	assert.True(errors.Is(err, unix.EADDRINUSE))
	assert.Contains(err.Error(), "bind :9999 failed")

	err = ListenError(":9999", unix.EMFILE)
	var createErr *SocketCreateError
	assert.True(errors.As(err, &createErr))
	assert.False(errors.As(err, &bindErr))
}

func TestSendError(t *testing.T) {
	err := error(&SendError{Destination: "127.0.0.1:1", Size: 5, Err: unix.ECONNREFUSED})
	assert.True(t, errors.Is(err, unix.ECONNREFUSED))
	assert.Equal(t, "send 5 bytes to 127.0.0.1:1 failed: "+unix.ECONNREFUSED.Error(), err.Error())
}
