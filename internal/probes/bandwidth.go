package probes

import (
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/anstrom/netscope/internal/config"
	"github.com/anstrom/netscope/internal/errors"
	"github.com/anstrom/netscope/internal/probe"
)

// BandwidthProbe measures download throughput over HTTP and connection
// latency, jitter and loss with repeated TCP connects to the target.
type BandwidthProbe struct {
	URL        string
	Samples    int
	Port       int
	Thresholds config.ThresholdsConfig
	Client     *http.Client
	Dialer     Dialer
}

// Kind implements probe.Probe.
func (p *BandwidthProbe) Kind() probe.Kind { return probe.KindBandwidth }

// Execute implements probe.Probe. Options.Extra may carry "url" and "port".
func (p *BandwidthProbe) Execute(ctx context.Context, target probe.Target, opts probe.Options) *probe.Result {
	url := p.URL
	if v := opts.Extra["url"]; v != "" {
		url = v
	}
	port := p.Port
	if v := opts.Extra["port"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 65535 {
			return probe.Failed(errors.New(errors.CodeValidation, fmt.Sprintf("invalid port %q", v)))
		}
		port = n
	}
	if port == 0 {
		port = 443
	}
	samples := p.Samples
	if opts.Count > 0 {
		samples = opts.Count
	}
	if samples <= 0 {
		samples = 10
	}

	quality := p.measureLatency(ctx, net.JoinHostPort(target.Address, strconv.Itoa(port)), samples)
	if err := ctx.Err(); err != nil {
		return probe.Failed(err)
	}

	var (
		mbps    float64
		dlErr   error
		dlBytes int64
	)
	if url != "" {
		mbps, dlBytes, dlErr = p.download(ctx, url)
		if err := ctx.Err(); err != nil {
			return probe.Failed(err)
		}
	}

	if dlErr != nil && quality.received == 0 {
		return probe.Failed(dlErr)
	}

	status := probe.Success
	switch {
	case dlErr != nil, quality.received == 0:
		status = probe.Warning
	case p.Thresholds.JitterLossWarn > 0 && quality.lossPercent >= p.Thresholds.JitterLossWarn:
		status = probe.Warning
	}

	return probe.Succeeded(status, probe.Metrics{
		{Name: "download_mbps", Value: probe.Float(round2(mbps))},
		{Name: "latency_ms", Value: probe.Float(round2(quality.avg))},
		{Name: "jitter_ms", Value: probe.Float(round2(quality.jitter))},
		{Name: "packet_loss_percent", Value: probe.Float(round2(quality.lossPercent))},
		{Name: "bytes_downloaded", Value: probe.Int(int(dlBytes))},
	})
}

func (p *BandwidthProbe) download(ctx context.Context, url string) (float64, int64, error) {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, 0, errors.Wrap(errors.CodeValidation, "invalid download URL", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, 0, errors.Classify(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, errors.New(errors.CodeTransientNetwork, fmt.Sprintf("download returned %s", resp.Status))
	}

	n, err := io.Copy(io.Discard, resp.Body)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		return 0, n, errors.Classify(err)
	}
	if elapsed <= 0 {
		return 0, n, nil
	}
	return float64(n) * 8 / 1e6 / elapsed, n, nil
}

type linkQuality struct {
	avg, jitter, lossPercent float64
	received                 int
}

// measureLatency times sequential TCP connects. Jitter is the mean absolute
// deviation from the average.
func (p *BandwidthProbe) measureLatency(ctx context.Context, addr string, samples int) linkQuality {
	dialer := p.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	var rtts []float64
	for i := 0; i < samples && ctx.Err() == nil; i++ {
		dialCtx, cancel := context.WithTimeout(ctx, time.Second)
		start := time.Now()
		conn, err := dialer.DialContext(dialCtx, "tcp", addr)
		took := time.Since(start)
		cancel()
		if err != nil {
			continue
		}
		_ = conn.Close()
		rtts = append(rtts, ms(took))
	}

	q := linkQuality{received: len(rtts)}
	q.lossPercent = float64(samples-len(rtts)) / float64(samples) * 100
	if len(rtts) == 0 {
		return q
	}
	var sum float64
	for _, r := range rtts {
		sum += r
	}
	q.avg = sum / float64(len(rtts))
	var dev float64
	for _, r := range rtts {
		dev += math.Abs(r - q.avg)
	}
	q.jitter = dev / float64(len(rtts))
	return q
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
