package probe

import (
	"context"
	"encoding/json"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netscope/internal/errors"
)

func TestStatusOrdering(t *testing.T) {
	assert.Equal(t, Failure, Worse(Success, Failure))
	assert.Equal(t, Warning, Worse(Warning, Success))
	assert.Equal(t, Failure, Worse(Failure, Warning))
	assert.Equal(t, Success, Worse(Success, Success))
}

func TestStatusJSON(t *testing.T) {
	data, err := json.Marshal(Warning)
	require.NoError(t, err)
	assert.JSONEq(t, `"warning"`, string(data))

	var s Status
	require.NoError(t, json.Unmarshal([]byte(`"failure"`), &s))
	assert.Equal(t, Failure, s)

	assert.Error(t, json.Unmarshal([]byte(`"meh"`), &s))
}

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"ping":       KindPing,
		"tracert":    KindTraceroute,
		"lookup":     KindDNS,
		"ports":      KindPortScan,
		"nmap":       KindNmap,
		"arp-scan":   KindARP,
		"ping-sweep": KindSweep,
		"speed":      KindBandwidth,
		"audit":      KindSecurityAudit,
	}
	for in, want := range tests {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseKind("teleport")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
}

func TestSpecKey(t *testing.T) {
	host := NewSpec(KindPing, Target{Input: "localhost", Address: "127.0.0.1"}, Options{})
	assert.Equal(t, "ping:127.0.0.1", host.Key)

	block := NewSpec(KindSweep, Target{Input: "10.0.0.0/30", Prefix: netip.MustParsePrefix("10.0.0.0/30")}, Options{})
	assert.Equal(t, "sweep:10.0.0.0/30", block.Key)
	assert.True(t, block.Target.IsCIDR())
}

func TestMetricsOrderPreserved(t *testing.T) {
	var m Metrics
	m.Set("packet_loss", Float(0))
	m.Set("avg_latency", Float(12.5))
	m.Set("ok", Bool(true))
	m.Set("hops", Strings([]string{"10.0.0.1", "10.0.0.2"}))
	m.Set("packets_sent", Int(4))
	m.Set("avg_latency", Float(13))

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t,
		`{"packet_loss":0,"avg_latency":13,"ok":true,"hops":["10.0.0.1","10.0.0.2"],"packets_sent":4}`,
		string(data))

	key, ok := m.Key()
	require.True(t, ok)
	assert.Equal(t, "packet_loss", key.Name)

	var back Metrics
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back, 5)
	assert.Equal(t, "avg_latency", back[1].Name)
	assert.Equal(t, ValueInt, back[4].Value.Kind())
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, back[3].Value.List())
}

func TestValueRendering(t *testing.T) {
	assert.Equal(t, "42", Int(42).String())
	assert.Equal(t, "3.25", Float(3.25).String())
	assert.Equal(t, "false", Bool(false).String())
	assert.Equal(t, "a;b", Strings([]string{"a", "b"}).String())
	assert.Equal(t, "low", String("low").String())

	n, ok := Bool(true).Number()
	assert.True(t, ok)
	assert.Equal(t, 1.0, n)
	_, ok = String("x").Number()
	assert.False(t, ok)

	data, err := json.Marshal(Strings(nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestFailedClassifies(t *testing.T) {
	r := Failed(context.DeadlineExceeded)
	assert.Equal(t, Failure, r.Status)
	require.NotNil(t, r.Err)
	assert.Equal(t, errors.CodeTimeout, r.Err.Code)
}

func TestRegistry(t *testing.T) {
	ping := Func{K: KindPing, F: func(context.Context, Target, Options) *Result {
		return Succeeded(Success, nil)
	}}
	dns := Func{K: KindDNS, F: func(context.Context, Target, Options) *Result {
		return Succeeded(Warning, nil)
	}}
	reg := NewRegistry(ping, dns)

	assert.Equal(t, []Kind{KindDNS, KindPing}, reg.Kinds())

	p, ok := reg.Lookup(KindDNS)
	require.True(t, ok)
	assert.Equal(t, Warning, p.Execute(context.Background(), Target{}, Options{}).Status)

	_, ok = reg.Lookup(KindNmap)
	assert.False(t, ok)
}
