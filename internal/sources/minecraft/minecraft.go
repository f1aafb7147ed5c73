// Package minecraft shows whether a Minecraft server is up and how many
// players are online.
package minecraft

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/config"
	"github.com/Golevka2001/awtrix-scripts/internal/sourcekit"
	"github.com/Golevka2001/awtrix-scripts/internal/task"
	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

const (
	Name = "minecraft_server_status"

	offlineIcon     = "23611"
	onlineIcon      = "21699"
	offlineColor    = "#666666"
	progressColor   = "#ffffff"
	progressBGColor = "#666666"
)

// Options are the source specific keys of tasks.minecraft_server_status.
// JavaEdition defaults to true.
type Options struct {
	ServerAddr  string `json:"server_addr"`
	JavaEdition *bool  `json:"java_edition"`
}

type Source struct {
	env   sourcekit.Env
	probe Prober
}

func New(env sourcekit.Env) *Source {
	return &Source{env: env.WithDefaults(), probe: Probe}
}

func (s *Source) Name() string { return Name }

func (s *Source) Defaults() sourcekit.Defaults {
	return sourcekit.Defaults{Interval: 5 * time.Minute, Priority: sourcekit.DefaultPriority, Enabled: true}
}

func (s *Source) ErrorPayload() task.Payload { return sourcekit.ErrorPayload(offlineIcon) }

func (s *Source) ValidateOptions(c *config.Config) error {
	var o Options
	return sourcekit.Options(c, Name, &o)
}

// Fetch reports an unreachable server as offline rather than failing.
func (s *Source) Fetch(ctx context.Context) (task.Payload, error) {
	var o Options
	if err := sourcekit.Options(s.env.Config(), Name, &o); err != nil {
		return nil, fmt.Errorf("%s options: %w", Name, err)
	}
	if o.ServerAddr == "" {
		return nil, errors.New("minecraft server address not configured")
	}
	java := o.JavaEdition == nil || *o.JavaEdition

	players, err := s.probe(ctx, o.ServerAddr, java)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.env.Log.Debug("server unreachable", logx.String("task", Name), logx.String("addr", o.ServerAddr), logx.Err(err))
		return Offline(), nil
	}
	return Online(players), nil
}

func Offline() task.Payload {
	return task.Payload{
		"icon":     offlineIcon,
		"textCase": 2,
		"text":     "Off",
		"color":    offlineColor,
	}
}

func Online(p Players) task.Payload {
	return task.Payload{
		"icon":       onlineIcon,
		"textCase":   2,
		"text":       strconv.Itoa(p.Online),
		"progress":   Progress(p.Online, p.Max),
		"progressC":  progressColor,
		"progressBC": progressBGColor,
	}
}

// Progress is the share of occupied slots, truncated and clamped to
// [0, 100]. A non-positive max yields 0.
func Progress(online, maxPlayers int) int {
	if maxPlayers <= 0 {
		return 0
	}
	p := online * 100 / maxPlayers
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
