package speedtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"
)

// Result is one measurement.
type Result struct {
	DownloadMbps float64
	UploadMbps   float64
	Ping         time.Duration
	ServerName   string
}

// RunConfig controls a run.
type RunConfig struct {
	// Closest servers (by distance) to ping.
	ServerCount int
	// Lowest-latency servers that get a full download/upload test, run
	// sequentially to keep peak memory low.
	FullTestServers int
	SavingMode      bool
	MaxConnections  int
	PingConcurrency int
}

func (c RunConfig) withDefaults() RunConfig {
	if c.ServerCount <= 0 {
		c.ServerCount = 5
	}
	if c.FullTestServers <= 0 {
		c.FullTestServers = 1
	}
	if c.FullTestServers > c.ServerCount {
		c.FullTestServers = c.ServerCount
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 4
	}
	if c.PingConcurrency <= 0 {
		c.PingConcurrency = 4
	}
	return c
}

// Measurer runs one speed test.
type Measurer func(ctx context.Context, cfg RunConfig) (Result, error)

// Measure runs a speed test against speedtest.net servers.
func Measure(ctx context.Context, cfg RunConfig) (Result, error) {
	cfg = cfg.withDefaults()

	// A dedicated client: the package-level helpers keep snapshots alive
	// across runs.
	stc := st.New(st.WithUserConfig(&st.UserConfig{
		SavingMode:     cfg.SavingMode,
		MaxConnections: cfg.MaxConnections,
	}))
	stc.SetNThread(cfg.MaxConnections)
	defer func() {
		stc.Snapshots().Clean()
		stc.Reset()
	}()

	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return Result{}, errors.New("no servers available")
	}

	sort.Slice(servers, func(i, j int) bool { return servers[i].Distance < servers[j].Distance })
	n := min(cfg.ServerCount, len(servers))
	pinged := pingCandidates(ctx, servers[:n], cfg.PingConcurrency)
	if len(pinged) == 0 {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		return Result{}, errors.New("all latency tests failed")
	}
	sort.Slice(pinged, func(i, j int) bool { return pinged[i].Latency < pinged[j].Latency })

	var (
		results []Result
		lastErr error
	)
	for _, s := range pinged[:min(cfg.FullTestServers, len(pinged))] {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if err := s.DownloadTestContext(ctx); err != nil {
			lastErr = err
			continue
		}
		if err := s.UploadTestContext(ctx); err != nil {
			lastErr = err
			continue
		}
		results = append(results, Result{
			DownloadMbps: s.DLSpeed.Mbps(),
			UploadMbps:   s.ULSpeed.Mbps(),
			Ping:         s.Latency,
			ServerName:   s.Sponsor,
		})
		stc.Snapshots().Clean()
	}
	if len(results) == 0 {
		return Result{}, fmt.Errorf("full test failed for all servers: %w", lastErr)
	}
	return average(results), nil
}

func pingCandidates(ctx context.Context, servers []*st.Server, limit int) []*st.Server {
	sem := make(chan struct{}, limit)
	var (
		mu sync.Mutex
		ok []*st.Server
		wg sync.WaitGroup
	)
	for _, s := range servers {
		wg.Add(1)
		go func(s *st.Server) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
			}
			defer func() { <-sem }()

			if err := s.PingTestContext(ctx, nil); err != nil || s.Latency <= 0 {
				return
			}
			mu.Lock()
			ok = append(ok, s)
			mu.Unlock()
		}(s)
	}
	wg.Wait()
	return ok
}

// average keeps the name of the lowest-latency server.
func average(rs []Result) Result {
	var out Result
	best := rs[0]
	for _, r := range rs {
		out.DownloadMbps += r.DownloadMbps
		out.UploadMbps += r.UploadMbps
		out.Ping += r.Ping
		if r.Ping < best.Ping {
			best = r
		}
	}
	n := float64(len(rs))
	out.DownloadMbps /= n
	out.UploadMbps /= n
	out.Ping /= time.Duration(len(rs))
	out.ServerName = best.ServerName
	return out
}
