package probes

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netscope/internal/config"
	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/probe"
)

func payloadServer(t *testing.T, size int) *httptest.Server {
	t.Helper()
	body := bytes.Repeat([]byte("x"), size)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payload" {
			http.Error(w, "gone", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func serverPort(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	_, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	return port
}

func TestBandwidthProbe(t *testing.T) {
	srv := payloadServer(t, 64*1024)
	p := &BandwidthProbe{Samples: 3, Thresholds: config.Default().Thresholds, Client: srv.Client()}

	r := p.Execute(context.Background(), probe.Target{Address: "127.0.0.1"}, probe.Options{
		Extra: map[string]string{"url": srv.URL + "/payload", "port": serverPort(t, srv)},
	})

	require.Equal(t, probe.Success, r.Status)
	key, _ := r.Metrics.Key()
	assert.Equal(t, "download_mbps", key.Name)
	n, _ := r.Metrics.Get("bytes_downloaded")
	assert.Equal(t, "65536", n.String())
	loss, _ := r.Metrics.Get("packet_loss_percent")
	v, _ := loss.Number()
	assert.Zero(t, v)
	mbps, _ := key.Value.Number()
	assert.Greater(t, mbps, 0.0)
}

func TestBandwidthProbe_Unreachable(t *testing.T) {
	port := strconv.Itoa(closedPort(t))

	t.Run("no answers is a warning", func(t *testing.T) {
		p := &BandwidthProbe{Samples: 2}
		r := p.Execute(context.Background(), probe.Target{Address: "127.0.0.1"}, probe.Options{
			Extra: map[string]string{"port": port},
		})
		assert.Equal(t, probe.Warning, r.Status)
		loss, _ := r.Metrics.Get("packet_loss_percent")
		v, _ := loss.Number()
		assert.Equal(t, 100.0, v)
	})

	t.Run("failed download with no answers fails", func(t *testing.T) {
		srv := payloadServer(t, 1)
		p := &BandwidthProbe{Samples: 2, Client: srv.Client()}
		r := p.Execute(context.Background(), probe.Target{Address: "127.0.0.1"}, probe.Options{
			Extra: map[string]string{"url": srv.URL + "/missing", "port": port},
		})
		assert.Equal(t, probe.Failure, r.Status)
		assert.Equal(t, errors.CodeTransientNetwork, r.Err.Code)
	})

	t.Run("failed download with answers warns", func(t *testing.T) {
		srv := payloadServer(t, 1)
		p := &BandwidthProbe{Samples: 2, Client: srv.Client()}
		r := p.Execute(context.Background(), probe.Target{Address: "127.0.0.1"}, probe.Options{
			Extra: map[string]string{"url": srv.URL + "/missing", "port": serverPort(t, srv)},
		})
		assert.Equal(t, probe.Warning, r.Status)
	})
}

func TestBandwidthProbe_InvalidPort(t *testing.T) {
	r := (&BandwidthProbe{}).Execute(context.Background(), probe.Target{Address: "127.0.0.1"}, probe.Options{
		Extra: map[string]string{"port": "http"},
	})
	assert.Equal(t, errors.CodeValidation, r.Err.Code)
}
