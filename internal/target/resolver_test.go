package target

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netscope/internal/errors"
)

const routeTable = `Iface	Destination	Gateway 	Flags	RefCnt	Use	Metric	Mask		MTU	Window	IRTT
eth0	0000A8C0	00000000	0001	0	0	100	00FFFFFF	0	0	0
eth0	00000000	0102A8C0	0003	0	0	100	00000000	0	0	0
`

func testResolver(t *testing.T) *Resolver {
	dir := t.TempDir()
	route := filepath.Join(dir, "route")
	resolv := filepath.Join(dir, "resolv.conf")
	require.NoError(t, os.WriteFile(route, []byte(routeTable), 0600))
	require.NoError(t, os.WriteFile(resolv, []byte("search lan\nnameserver 10.0.0.53\nnameserver 1.1.1.1\n"), 0600))
	return &Resolver{RouteFile: route, ResolvConf: resolv}
}

func TestResolveShortcuts(t *testing.T) {
	r := testResolver(t)

	tests := []struct {
		input    string
		address  string
		shortcut string
	}{
		{"localhost", "127.0.0.1", "localhost"},
		{"LOCAL", "127.0.0.1", "localhost"},
		{"gateway", "192.168.2.1", "gateway"},
		{"router", "192.168.2.1", "gateway"},
		{"dns", "10.0.0.53", "dns"},
		{"dns-server", "10.0.0.53", "dns"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := r.Resolve(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.address, got.Address)
			assert.Equal(t, tt.shortcut, got.Shortcut)
			assert.Equal(t, tt.input, got.Input)
		})
	}
}

func TestShortcutFallbacks(t *testing.T) {
	dir := t.TempDir()
	r := &Resolver{RouteFile: filepath.Join(dir, "missing"), ResolvConf: filepath.Join(dir, "missing")}

	assert.Equal(t, fallbackGateway, r.DefaultGateway())
	assert.Equal(t, fallbackDNSServer, r.DNSServer())
}

func TestResolveLiterals(t *testing.T) {
	r := testResolver(t)

	t.Run("ipv4", func(t *testing.T) {
		got, err := r.Resolve(" 8.8.8.8 ")
		require.NoError(t, err)
		assert.Equal(t, "8.8.8.8", got.Address)
		assert.False(t, got.IsCIDR())
	})

	t.Run("ipv6", func(t *testing.T) {
		got, err := r.Resolve("2001:4860:4860::8888")
		require.NoError(t, err)
		assert.Equal(t, "2001:4860:4860::8888", got.Address)
	})

	t.Run("hostname", func(t *testing.T) {
		got, err := r.Resolve("example.com.")
		require.NoError(t, err)
		assert.Equal(t, "example.com", got.Address)
	})

	t.Run("cidr is masked", func(t *testing.T) {
		got, err := r.Resolve("192.168.1.77/24")
		require.NoError(t, err)
		assert.True(t, got.IsCIDR())
		assert.Equal(t, "192.168.1.0/24", got.String())
	})
}

func TestResolveInvalid(t *testing.T) {
	r := testResolver(t)

	for _, input := range []string{"", "   ", "10.0.0.0/33", "not a host", "-bad.example", "999.1.1.1", "a..b"} {
		t.Run(input, func(t *testing.T) {
			_, err := r.Resolve(input)
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeInvalidTarget))
		})
	}
}

func TestResolveHostAndBlock(t *testing.T) {
	r := testResolver(t)

	_, err := r.ResolveHost("10.0.0.0/24")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidTarget))

	_, err = r.ResolveBlock("10.0.0.1")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidTarget))

	block, err := r.ResolveBlock("10.0.0.0/30")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/30", block.String())
}

func TestExpand(t *testing.T) {
	t.Run("slash 30 yields every address", func(t *testing.T) {
		addrs, err := Expand(netip.MustParsePrefix("10.0.0.0/30"), MaxSweepAddresses)
		require.NoError(t, err)
		want := []netip.Addr{
			netip.MustParseAddr("10.0.0.0"),
			netip.MustParseAddr("10.0.0.1"),
			netip.MustParseAddr("10.0.0.2"),
			netip.MustParseAddr("10.0.0.3"),
		}
		assert.Equal(t, want, addrs)
	})

	t.Run("slash 24 at the limit", func(t *testing.T) {
		addrs, err := Expand(netip.MustParsePrefix("192.168.0.0/24"), MaxSweepAddresses)
		require.NoError(t, err)
		assert.Len(t, addrs, 256)
	})

	t.Run("slash 32", func(t *testing.T) {
		addrs, err := Expand(netip.MustParsePrefix("10.1.1.1/32"), MaxSweepAddresses)
		require.NoError(t, err)
		assert.Equal(t, []netip.Addr{netip.MustParseAddr("10.1.1.1")}, addrs)
	})

	t.Run("end of address space", func(t *testing.T) {
		addrs, err := Expand(netip.MustParsePrefix("255.255.255.252/30"), MaxSweepAddresses)
		require.NoError(t, err)
		assert.Len(t, addrs, 4)
	})

	t.Run("too large", func(t *testing.T) {
		_, err := Expand(netip.MustParsePrefix("10.0.0.0/23"), MaxSweepAddresses)
		assert.True(t, errors.IsCode(err, errors.CodeInvalidTarget))

		_, err = Expand(netip.MustParsePrefix("2001:db8::/64"), MaxSweepAddresses)
		assert.True(t, errors.IsCode(err, errors.CodeInvalidTarget))
	})
}
