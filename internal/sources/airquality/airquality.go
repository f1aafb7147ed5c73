// Package airquality shows the air quality index of a Chinese city from the
// tianapi AQI endpoint, colored by pollution band.
package airquality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/config"
	"github.com/Golevka2001/awtrix-scripts/internal/sourcekit"
	"github.com/Golevka2001/awtrix-scripts/internal/task"
)

const (
	Name = "air_quality"

	apiURL      = "https://apis.tianapi.com/aqi/index"
	errorIcon   = "47657"
	defaultArea = "北京"
)

type band struct {
	max   int
	icon  string
	color string
}

// AQI bands: good, moderate, light, medium, heavy and severe pollution.
var bands = []band{
	{50, "47651", "#71d608"},
	{100, "47652", "#faff1b"},
	{150, "47653", "#f98718"},
	{200, "47654", "#f70017"},
	{300, "47655", "#8f00ff"},
}

var severe = band{icon: "47656", color: "#870089"}

// Options are the source specific keys of tasks.air_quality.
type Options struct {
	APIKey string `json:"api_key"`
	Area   string `json:"area"`
}

type Source struct {
	env    sourcekit.Env
	apiURL string
}

func New(env sourcekit.Env) *Source {
	return &Source{env: env.WithDefaults(), apiURL: apiURL}
}

func (s *Source) Name() string { return Name }

func (s *Source) Defaults() sourcekit.Defaults {
	return sourcekit.Defaults{Interval: 20 * time.Minute, Priority: sourcekit.DefaultPriority, Enabled: true}
}

func (s *Source) ErrorPayload() task.Payload { return sourcekit.ErrorPayload(errorIcon) }

func (s *Source) options() (Options, error) {
	var o Options
	if err := sourcekit.Options(s.env.Config(), Name, &o); err != nil {
		return o, fmt.Errorf("%s options: %w", Name, err)
	}
	if o.Area == "" {
		o.Area = defaultArea
	}
	return o, nil
}

// ValidateOptions decodes the configured options without fetching.
func (s *Source) ValidateOptions(c *config.Config) error {
	var o Options
	return sourcekit.Options(c, Name, &o)
}

type response struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Result *struct {
		AQI json.Number `json:"aqi"`
	} `json:"result"`
}

func (s *Source) Fetch(ctx context.Context) (task.Payload, error) {
	o, err := s.options()
	if err != nil {
		return nil, err
	}
	if o.APIKey == "" {
		return nil, errors.New("api_key not configured")
	}

	var resp response
	q := url.Values{"key": {o.APIKey}, "area": {o.Area}}
	if err := s.env.Client.GetJSON(ctx, s.apiURL, q, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 200 {
		return nil, fmt.Errorf("api error: %s (code: %d)", resp.Msg, resp.Code)
	}
	if resp.Result == nil {
		return nil, errors.New("missing AQI data in api response")
	}
	aqi, err := parseAQI(resp.Result.AQI)
	if err != nil {
		return nil, err
	}
	return Render(aqi), nil
}

func parseAQI(n json.Number) (int, error) {
	s := strings.Trim(n.String(), `"`)
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid AQI value %q", s)
	}
	return int(f), nil
}

// Render builds the payload for an AQI value.
func Render(aqi int) task.Payload {
	b := severe
	for _, cand := range bands {
		if aqi <= cand.max {
			b = cand
			break
		}
	}
	return task.Payload{
		"icon":     b.icon,
		"textCase": 2,
		"text":     strconv.Itoa(aqi),
		"color":    b.color,
	}
}
