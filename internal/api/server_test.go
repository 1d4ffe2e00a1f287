package api

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netscope/internal/aggregate"
	"github.com/anstrom/netscope/internal/config"
	"github.com/anstrom/netscope/internal/logging"
	"github.com/anstrom/netscope/internal/monitor"
	"github.com/anstrom/netscope/internal/probe"
)

type fakeSource struct {
	session  monitor.Session
	entries  []monitor.Entry
	baseline map[string]monitor.Stats
}

func (f *fakeSource) Session() monitor.Session { return f.session }
func (f *fakeSource) History() []monitor.Entry { return f.entries }

func (f *fakeSource) Series() []string {
	out := make([]string, 0, len(f.baseline))
	for k := range f.baseline {
		out = append(out, k)
	}
	return out
}

func (f *fakeSource) Baseline(series string) (monitor.Stats, bool) {
	st, ok := f.baseline[series]
	return st, ok
}

func entry(tick int, status probe.Status) monitor.Entry {
	return monitor.Entry{
		Tick: tick,
		Due:  time.Date(2024, 3, 9, 14, 5, tick, 0, time.UTC),
		Record: &aggregate.RunRecord{
			ID:     "2024-03-09_140500_monitor",
			Name:   "monitor",
			Target: "10.0.0.1",
			Seq:    tick + 1,
			Status: status,
		},
	}
}

func newTestServer(t *testing.T, src Source, origins ...string) (*Server, *httptest.Server) {
	t.Helper()
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "netscope_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	s := New(config.ServerConfig{ListenAddr: "127.0.0.1:0", AllowedOrigins: origins}, src, reg, logging.Discard())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Live().Close()
		ts.Close()
	})
	return s, ts
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func TestServer_Session(t *testing.T) {
	src := &fakeSource{session: monitor.Session{ID: "abc", Interval: time.Second, Runs: 4, Running: true}}
	_, ts := newTestServer(t, src)

	var got monitor.Session
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/session", &got))
	assert.Equal(t, "abc", got.ID)
	assert.Equal(t, 4, got.Runs)
	assert.True(t, got.Running)
}

func TestServer_History(t *testing.T) {
	src := &fakeSource{entries: []monitor.Entry{entry(0, probe.Success), entry(1, probe.Warning), entry(2, probe.Failure)}}
	_, ts := newTestServer(t, src)

	t.Run("all", func(t *testing.T) {
		var got []monitor.Entry
		assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/history", &got))
		require.Len(t, got, 3)
		assert.Equal(t, 0, got[0].Tick)
		assert.Equal(t, probe.Failure, got[2].Record.Status)
	})

	t.Run("limit keeps newest", func(t *testing.T) {
		var got []monitor.Entry
		assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/history?limit=2", &got))
		require.Len(t, got, 2)
		assert.Equal(t, 1, got[0].Tick)
		assert.Equal(t, 2, got[1].Tick)
	})

	t.Run("bad limit", func(t *testing.T) {
		for _, q := range []string{"0", "-1", "many"} {
			var got ErrorResponse
			assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/api/v1/history?limit="+q, &got))
			assert.Contains(t, got.Error, "limit")
		}
	})
}

func TestServer_HistoryWithZeroSpreadAnomaly(t *testing.T) {
	b := monitor.NewBaseline(2, 3)
	b.Observe("ping/packet_loss", 0)
	b.Observe("ping/packet_loss", 0)
	a, flagged := b.Observe("ping/packet_loss", 25)
	require.True(t, flagged)

	e := entry(2, probe.Warning)
	e.Anomalies = []monitor.Anomaly{a}
	_, ts := newTestServer(t, &fakeSource{entries: []monitor.Entry{e}})

	var got []monitor.Entry
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/history", &got))
	require.Len(t, got, 1)
	require.Len(t, got[0].Anomalies, 1)
	assert.Equal(t, 25.0, got[0].Anomalies[0].Value)
}

func TestServer_WriteJSONEncodeFailure(t *testing.T) {
	s, _ := newTestServer(t, &fakeSource{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)

	s.WriteJSON(rec, req, http.StatusOK, map[string]float64{"bad": math.Inf(1)})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var got ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.NotEmpty(t, got.Error)
}

func TestServer_EmptyHistoryIsArray(t *testing.T) {
	_, ts := newTestServer(t, &fakeSource{})

	resp, err := http.Get(ts.URL + "/api/v1/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(body))
}

func TestServer_Baselines(t *testing.T) {
	src := &fakeSource{baseline: map[string]monitor.Stats{
		"ping:10.0.0.1/avg_latency": {Count: 5, Mean: 1.5, StdDev: 0.2, Min: 1.2, Max: 1.8},
		"dns:10.0.0.1/ip_count":     {Count: 5, Mean: 1, Min: 1, Max: 1},
	}}
	_, ts := newTestServer(t, src)

	var got []BaselineResponse
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/api/v1/baselines", &got))
	require.Len(t, got, 2)
	assert.Equal(t, "dns:10.0.0.1/ip_count", got[0].Series)
	assert.Equal(t, "ping:10.0.0.1/avg_latency", got[1].Series)
	assert.InDelta(t, 1.5, got[1].Mean, 1e-9)
	assert.Equal(t, 5, got[1].Count)
}

func TestServer_Metrics(t *testing.T) {
	_, ts := newTestServer(t, &fakeSource{})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "netscope_test_total 3")
}

func TestServer_UnknownRoute(t *testing.T) {
	_, ts := newTestServer(t, &fakeSource{})

	var got ErrorResponse
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/api/v1/scans", &got))
	assert.Contains(t, got.Error, "/api/v1/scans")
}

func TestServer_CORS(t *testing.T) {
	_, ts := newTestServer(t, &fakeSource{}, "https://dash.example.com")

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/liveness", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dash.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://dash.example.com", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_StartStop(t *testing.T) {
	s := New(config.ServerConfig{}, &fakeSource{}, prometheus.NewRegistry(), logging.Discard())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/api/v1/liveness"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(serverShutdownTimeout + time.Second):
		t.Fatal("server did not stop")
	}
}

func dialLive(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/live"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestLive_BroadcastsEntries(t *testing.T) {
	s, ts := newTestServer(t, &fakeSource{})
	conn := dialLive(t, ts)

	// The hello frame is only written once the client is registered.
	assert.Equal(t, MessageHello, readMessage(t, conn).Type)
	assert.Equal(t, 1, s.Live().Clients())

	s.Live().Broadcast(entry(3, probe.Warning))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageRun, msg.Type)
	data, err := json.Marshal(msg.Data)
	require.NoError(t, err)
	var got monitor.Entry
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 3, got.Tick)
	assert.Equal(t, probe.Warning, got.Record.Status)
	assert.Equal(t, 4, got.Record.Seq)
}

func TestLive_CloseDisconnectsClients(t *testing.T) {
	s, ts := newTestServer(t, &fakeSource{})
	conn := dialLive(t, ts)
	readMessage(t, conn)

	s.Live().Close()
	assert.Zero(t, s.Live().Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestLive_ClientLeaving(t *testing.T) {
	s, ts := newTestServer(t, &fakeSource{})
	conn := dialLive(t, ts)
	readMessage(t, conn)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return s.Live().Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOriginChecker(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://netscope.local:9090/api/v1/live", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.Nil(t, originChecker(nil))
	assert.True(t, originChecker([]string{"*"})(req("https://anything.example")))

	check := originChecker([]string{"https://dash.example.com"})
	assert.True(t, check(req("")))
	assert.True(t, check(req("https://dash.example.com")))
	assert.True(t, check(req("http://netscope.local:9090")))
	assert.False(t, check(req("https://evil.example.com")))
}

func TestLive_RejectsForeignOrigin(t *testing.T) {
	_, ts := newTestServer(t, &fakeSource{}, "https://dash.example.com")
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/live"

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
