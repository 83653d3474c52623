package main

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"testing"

	"github.com/lomik/zapwriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-graphite/udp-relay/qa"
	"github.com/go-graphite/udp-relay/relay"
)

func TestLoadConfigPositional(t *testing.T) {
	cfg, err := loadConfig("", []string{"9999", "127.0.0.1"})
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9999", cfg.Listen.Listen)
	assert.Equal(t, "127.0.0.1:9999", cfg.Destinations[0].Address)
}

func TestLoadConfigUsage(t *testing.T) {
	for _, args := range [][]string{nil, {"9999"}, {"x", "127.0.0.1"}} {
		_, err := loadConfig("", args)
		assert.True(t, relay.IsArgumentError(err), "%#v", args)
	}
}

func TestLoadConfigFile(t *testing.T) {
	qa.Root(t, func(root string) {
		filename := relay.TestConfig(root, "127.0.0.1:0", "127.0.0.1:2003")

		cfg, err := loadConfig(filename, nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:2003", cfg.Destinations[0].Address)

		_, err = loadConfig(filename, []string{"9999", "127.0.0.1"})
		assert.Error(t, err)
		assert.False(t, relay.IsArgumentError(err))
	})
}

// fails if anything still holds port
func assertPortFree(t *testing.T, port int) {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	require.NoError(t, err, "port %d is still bound", port)
	conn.Close()
}

func TestRunUsage(t *testing.T) {
	port := qa.NewReceiver(t)
	p := port.Port()
	port.Close()

	table := [][]string{
		{},
		{strconv.Itoa(p)},
		{strconv.Itoa(p), "127.0.0.1", "extra"},
		{"port", "127.0.0.1"},
		{"70000", "127.0.0.1"},
		{strconv.Itoa(p), "not-an-ip"},
		{strconv.Itoa(p), "::1"},
		{"-unknown-flag"},
	}

	for _, args := range table {
		var stdout, stderr bytes.Buffer

		assert.Equal(t, exitUsage, run(args, &stdout, &stderr), "%#v", args)
		assert.Contains(t, stderr.String(), "usage: udp-relay port dst_ip", "%#v", args)
		assert.Empty(t, stdout.String())

		assertPortFree(t, p)
	}
}

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer

	assert.Equal(t, exitOK, run([]string{"-version"}, &stdout, &stderr))
	assert.Equal(t, Version+"\n", stdout.String())
}

func TestRunBusyPort(t *testing.T) {
	defer zapwriter.Test()()

	busy := qa.NewReceiver(t)
	defer busy.Close()

	var stdout, stderr bytes.Buffer

	status := run([]string{strconv.Itoa(busy.Port()), "127.0.0.1"}, &stdout, &stderr)
	assert.Equal(t, exitError, status)
	assert.NotContains(t, stderr.String(), "usage:")
}

func TestRunCheckConfig(t *testing.T) {
	qa.Root(t, func(root string) {
		filename := relay.TestConfig(root, "127.0.0.1:0", "127.0.0.1:2003")

		var stdout, stderr bytes.Buffer
		assert.Equal(t, exitOK, run([]string{"-config", filename, "-check-config"}, &stdout, &stderr))

		missing := fmt.Sprintf("%s/missing.conf", root)
		assert.Equal(t, exitError, run([]string{"-config", missing, "-check-config"}, &stdout, &stderr))
	})
}
