// Package yearprogress shows how much of the current year has elapsed.
package yearprogress

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/sourcekit"
	"github.com/Golevka2001/awtrix-scripts/internal/task"
)

const (
	Name = "year_progress"

	icon            = "12111"
	progressColor   = "#ffffff"
	progressBGColor = "#666666"
)

type Source struct {
	env sourcekit.Env
}

func New(env sourcekit.Env) *Source {
	return &Source{env: env.WithDefaults()}
}

func (s *Source) Name() string { return Name }

func (s *Source) Defaults() sourcekit.Defaults {
	return sourcekit.Defaults{Interval: time.Hour, Priority: sourcekit.DefaultPriority, Enabled: true}
}

func (s *Source) ErrorPayload() task.Payload { return sourcekit.ErrorPayload(icon) }

func (s *Source) Fetch(context.Context) (task.Payload, error) {
	return Render(Percent(s.env.Now())), nil
}

// Percent returns the elapsed share of now's year, measured from Jan 1
// 00:00:00 to Dec 31 23:59:59 in now's location.
func Percent(now time.Time) float64 {
	loc := now.Location()
	start := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, loc)
	end := time.Date(now.Year(), time.December, 31, 23, 59, 59, 0, loc)
	return now.Sub(start).Seconds() / end.Sub(start).Seconds() * 100
}

// Render formats a percentage with two decimals and a progress bar.
func Render(pct float64) task.Payload {
	pct = math.Max(0, math.Min(100, pct))
	text := fmt.Sprintf("%.2f %%", pct)
	progress := int(math.RoundToEven(pct))
	if pct >= 100 {
		text = "100 %"
		progress = 100
	}
	return task.Payload{
		"icon":       icon,
		"textCase":   2,
		"text":       text,
		"progress":   progress,
		"progressC":  progressColor,
		"progressBC": progressBGColor,
	}
}
