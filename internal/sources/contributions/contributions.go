// Package contributions draws a GitHub account's contribution calendar as
// a 32x8 heatmap, one column per week with the latest week on the right.
package contributions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/Golevka2001/awtrix-scripts/internal/config"
	"github.com/Golevka2001/awtrix-scripts/internal/sourcekit"
	"github.com/Golevka2001/awtrix-scripts/internal/task"
)

const (
	Name = "github_contributions"

	pageBase  = "https://github.com"
	errorIcon = "45205"

	cols = 32
	rows = 8

	bgColor     uint32 = 0x000000
	markerColor uint32 = 0x666666
)

// levelColors are GitHub's dark theme greens, level 0 (none) to 4.
var levelColors = [...]uint32{0x151b23, 0x033b16, 0x1a6d2e, 0x2fa144, 0x56d365}

// Options are the source specific keys of tasks.github_contributions.
// RainbowMonths defaults to true. Token is accepted for older configs and
// not used: the calendar page is public.
type Options struct {
	Username      string `json:"username"`
	Token         string `json:"token"`
	RainbowMonths *bool  `json:"rainbow_months"`
	SplitByMonth  bool   `json:"split_by_month"`
}

type Source struct {
	env      sourcekit.Env
	pageBase string
}

func New(env sourcekit.Env) *Source {
	return &Source{env: env.WithDefaults(), pageBase: pageBase}
}

func (s *Source) Name() string { return Name }

func (s *Source) Defaults() sourcekit.Defaults {
	return sourcekit.Defaults{Interval: time.Hour, Priority: sourcekit.DefaultPriority, Enabled: true}
}

func (s *Source) ErrorPayload() task.Payload { return sourcekit.ErrorPayload(errorIcon) }

func (s *Source) ValidateOptions(c *config.Config) error {
	var o Options
	return sourcekit.Options(c, Name, &o)
}

func (s *Source) Fetch(ctx context.Context) (task.Payload, error) {
	var o Options
	if err := sourcekit.Options(s.env.Config(), Name, &o); err != nil {
		return nil, fmt.Errorf("%s options: %w", Name, err)
	}
	user := strings.TrimSpace(o.Username)
	if user == "" {
		return nil, errors.New("github username not configured")
	}

	body, err := s.env.Client.Get(ctx, s.pageBase+"/users/"+url.PathEscape(user)+"/contributions", nil, nil)
	if err != nil {
		return nil, err
	}
	days, err := ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, errors.New("no contributions data received")
	}

	rainbow := o.RainbowMonths == nil || *o.RainbowMonths
	return task.Payload{
		"draw": []any{
			map[string]any{"db": []any{0, 0, cols, rows, Pixels(days, rainbow, o.SplitByMonth)}},
		},
	}, nil
}

// Day is one calendar cell.
type Day struct {
	Date  time.Time
	Level int
}

// ParseCalendar reads the td.ContributionCalendar-day cells of the
// contributions page, sorted by date. A missing level counts as 0.
func ParseCalendar(r io.Reader) ([]Day, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}
	var days []Day
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "td" && hasClass(n, "ContributionCalendar-day") {
			if d, ok := parseDay(n); ok {
				days = append(days, d)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	sort.SliceStable(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
	return days, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func parseDay(n *html.Node) (Day, bool) {
	date, err := time.Parse(time.DateOnly, attr(n, "data-date"))
	if err != nil {
		return Day{}, false
	}
	level, _ := strconv.Atoi(attr(n, "data-level"))
	return Day{Date: date, Level: level}, true
}

// Pixels lays days out as packed 0xRRGGBB values, row major. Row 0 marks
// the week holding the first of a month; rows 1 to 7 are Sunday to
// Saturday. With split, a week spanning two months takes one column per
// month.
func Pixels(days []Day, rainbow, split bool) []uint32 {
	out := make([]uint32, rows*cols)
	if len(days) == 0 {
		return out
	}

	last := days[len(days)-1].Date
	anchor := last.AddDate(0, 0, 7-weekRow(last))
	weeks := map[int][]Day{}
	maxWeek := 0
	for _, d := range days {
		w := int(math.Round(anchor.Sub(d.Date).Hours()/24)) / 7
		weeks[w] = append(weeks[w], d)
		maxWeek = max(maxWeek, w)
	}

	var columns [][rows]uint32
	for w := 0; w <= maxWeek && len(columns) < cols; w++ {
		list := weeks[w]
		if split {
			if groups := byMonth(list); len(groups) > 1 {
				for _, g := range groups {
					columns = append(columns, column(g, rainbow))
				}
				continue
			}
		}
		columns = append(columns, column(list, rainbow))
	}

	for i, c := range columns {
		if i >= cols {
			break
		}
		x := cols - 1 - i
		for y, px := range c {
			out[y*cols+x] = px
		}
	}
	return out
}

// weekRow is 1 for Sunday through 7 for Saturday.
func weekRow(t time.Time) int { return int(t.Weekday()) + 1 }

func column(days []Day, rainbow bool) [rows]uint32 {
	var c [rows]uint32
	for i := range c {
		c[i] = bgColor
	}
	marked := false
	for _, d := range days {
		lvl := levelColors[len(levelColors)-1]
		if d.Level >= 0 && d.Level < len(levelColors) {
			lvl = levelColors[d.Level]
		}
		c[weekRow(d.Date)] = lvl
		if !marked && d.Date.Day() == 1 {
			c[0] = markerColor
			if rainbow {
				c[0] = monthColor(d.Date.Month())
			}
			marked = true
		}
	}
	return c
}

// byMonth groups one week's days by month, latest month first.
func byMonth(days []Day) [][]Day {
	idx := map[int]int{}
	var groups [][]Day
	for _, d := range days {
		key := d.Date.Year()*12 + int(d.Date.Month())
		i, ok := idx[key]
		if !ok {
			i = len(groups)
			idx[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], d)
	}
	latest := func(g []Day) time.Time {
		var t time.Time
		for _, d := range g {
			if d.Date.After(t) {
				t = d.Date
			}
		}
		return t
	}
	sort.SliceStable(groups, func(i, j int) bool { return latest(groups[i]).After(latest(groups[j])) })
	return groups
}

// monthColor spreads the months over the hue circle at 70% saturation and
// value.
func monthColor(m time.Month) uint32 {
	r, g, b := hsvToRGB(float64(m-1)/12, 0.7, 0.7)
	return uint32(r*255)<<16 | uint32(g*255)<<8 | uint32(b*255)
}

func hsvToRGB(h, s, v float64) (r, g, b float64) {
	if s == 0 {
		return v, v, v
	}
	i := int(h * 6)
	f := h*6 - float64(i)
	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))
	switch i % 6 {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	default:
		return v, p, q
	}
}
