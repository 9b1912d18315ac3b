// ABOUTME: Tests for mDNS discovery
// ABOUTME: Covers manager lifecycle, entry parsing and lookup cancellation
package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "studio", Port: 8927, Path: "/speech"})
	require.NotNil(t, mgr)
	assert.NotNil(t, mgr.Servers())
	assert.NotNil(t, mgr.log)

	mgr.Stop()
	select {
	case <-mgr.ctx.Done():
	default:
		t.Fatal("context should be cancelled after Stop")
	}
}

func TestServerFromEntry(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:       "studio._speechlink._tcp.local.",
		AddrV4:     net.IPv4(192, 168, 1, 20),
		Port:       8927,
		InfoFields: []string{"version=1", "path=/speech"},
	}

	server := serverFromEntry(entry)
	require.NotNil(t, server)
	assert.Equal(t, "studio", server.Name)
	assert.Equal(t, "192.168.1.20", server.Host)
	assert.Equal(t, "/speech", server.Path)
	assert.Equal(t, "ws://192.168.1.20:8927/speech", server.URL())

	assert.Nil(t, serverFromEntry(&mdns.ServiceEntry{Name: "v6only"}))
	assert.Nil(t, serverFromEntry(nil))
}

func TestServerInfoURLDefaultsPath(t *testing.T) {
	s := &ServerInfo{Host: "10.0.0.1", Port: 80}
	assert.Equal(t, "ws://10.0.0.1:80/", s.URL())
}

func TestLookupHonoursContext(t *testing.T) {
	mgr := NewManager(Config{})
	mgr.servers <- &ServerInfo{Name: "queued", Host: "10.0.0.2", Port: 9000}

	server, err := mgr.Lookup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "queued", server.Name)

	mgr = NewManager(Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = mgr.Lookup(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
