// Package speedtest shows the measured internet download (or upload, or
// ping) using speedtest.net servers. It is disabled unless enabled in the
// config since a run moves a lot of traffic.
package speedtest

import (
	"context"
	"fmt"
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/config"
	"github.com/Golevka2001/awtrix-scripts/internal/sourcekit"
	"github.com/Golevka2001/awtrix-scripts/internal/task"
	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

const (
	Name = "speedtest"

	defaultIcon    = "2241"
	defaultTimeout = 2 * time.Minute
)

// Options are the source specific keys of tasks.speedtest. Show is one of
// "download" (default), "upload" or "ping".
type Options struct {
	Show            string `json:"show"`
	Icon            string `json:"icon"`
	ServerCount     int    `json:"server_count"`
	FullTestServers int    `json:"full_test_servers"`
	SavingMode      bool   `json:"saving_mode"`
	MaxConnections  int    `json:"max_connections"`
}

type Source struct {
	env     sourcekit.Env
	measure Measurer
}

func New(env sourcekit.Env) *Source {
	return &Source{env: env.WithDefaults(), measure: Measure}
}

func (s *Source) Name() string { return Name }

func (s *Source) Defaults() sourcekit.Defaults {
	return sourcekit.Defaults{
		Interval: time.Hour,
		Priority: sourcekit.DefaultPriority,
		Enabled:  false,
		Timeout:  defaultTimeout,
	}
}

func (s *Source) options(c *config.Config) (Options, error) {
	var o Options
	if err := sourcekit.Options(c, Name, &o); err != nil {
		return o, err
	}
	switch o.Show {
	case "":
		o.Show = "download"
	case "download", "upload", "ping":
	default:
		return o, fmt.Errorf("show must be download, upload or ping, got %q", o.Show)
	}
	if o.Icon == "" {
		o.Icon = defaultIcon
	}
	return o, nil
}

func (s *Source) ValidateOptions(c *config.Config) error {
	_, err := s.options(c)
	return err
}

func (s *Source) ErrorPayload() task.Payload { return sourcekit.ErrorPayload(defaultIcon) }

func (s *Source) Fetch(ctx context.Context) (task.Payload, error) {
	o, err := s.options(s.env.Config())
	if err != nil {
		return nil, fmt.Errorf("%s options: %w", Name, err)
	}
	start := time.Now()
	res, err := s.measure(ctx, RunConfig{
		ServerCount:     o.ServerCount,
		FullTestServers: o.FullTestServers,
		SavingMode:      o.SavingMode,
		MaxConnections:  o.MaxConnections,
	})
	if err != nil {
		return nil, err
	}
	s.env.Log.Info("speedtest done",
		logx.String("task", Name),
		logx.Float64("download_mbps", res.DownloadMbps),
		logx.Float64("upload_mbps", res.UploadMbps),
		logx.Duration("ping", res.Ping),
		logx.String("server", res.ServerName),
		logx.Duration("took", time.Since(start)),
	)
	return Render(res, o.Show, o.Icon), nil
}

// Render formats the selected metric: "87M" or "1.2G" for throughput,
// "12ms" for ping.
func Render(r Result, show, icon string) task.Payload {
	var text string
	switch show {
	case "upload":
		text = formatMbps(r.UploadMbps)
	case "ping":
		text = fmt.Sprintf("%dms", r.Ping.Milliseconds())
	default:
		text = formatMbps(r.DownloadMbps)
	}
	return task.Payload{
		"icon":     icon,
		"textCase": 2,
		"text":     text,
	}
}

func formatMbps(v float64) string {
	if v >= 1000 {
		return fmt.Sprintf("%.1fG", v/1000)
	}
	return fmt.Sprintf("%.0fM", v)
}
