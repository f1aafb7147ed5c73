// Package gasprice shows the fuel price of one grade for a Chinese province
// from the tianapi oil price endpoint.
package gasprice

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
	Name = "gas_price"

	apiURL          = "https://apis.tianapi.com/oilprice/index"
	icon            = "63850"
	defaultProvince = "北京"
	defaultGrade    = "92"
)

// Options are the source specific keys of tasks.gas_price. DisplayType is
// one of 0, 89, 92, 95 or 98.
type Options struct {
	APIKey      string        `json:"api_key"`
	Province    string        `json:"province"`
	DisplayType config.Scalar `json:"display_type"`
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

func (s *Source) ErrorPayload() task.Payload { return sourcekit.ErrorPayload(icon) }

func (s *Source) ValidateOptions(c *config.Config) error {
	var o Options
	return sourcekit.Options(c, Name, &o)
}

type response struct {
	Code   int                        `json:"code"`
	Msg    string                     `json:"msg"`
	Result map[string]json.RawMessage `json:"result"`
}

func (s *Source) Fetch(ctx context.Context) (task.Payload, error) {
	var o Options
	if err := sourcekit.Options(s.env.Config(), Name, &o); err != nil {
		return nil, fmt.Errorf("%s options: %w", Name, err)
	}
	if o.APIKey == "" {
		return nil, errors.New("api_key not configured")
	}
	if o.Province == "" {
		o.Province = defaultProvince
	}
	grade := strings.TrimSpace(o.DisplayType.String())
	if grade == "" {
		grade = defaultGrade
	}

	var resp response
	q := url.Values{"key": {o.APIKey}, "prov": {o.Province}}
	if err := s.env.Client.GetJSON(ctx, s.apiURL, q, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 200 {
		return nil, fmt.Errorf("api error: %s (code: %d)", resp.Msg, resp.Code)
	}
	if len(resp.Result) == 0 {
		return nil, errors.New("missing gas price data in api response")
	}
	return Render(resp.Result, grade)
}

// Render picks the price for grade ("0", "89", "92", "95" or "98") out of the
// api result fields p0..p98.
func Render(result map[string]json.RawMessage, grade string) (task.Payload, error) {
	switch grade {
	case "0", "89", "92", "95", "98":
	default:
		return nil, fmt.Errorf("invalid gas price display type: %s", grade)
	}
	raw, ok := result["p"+grade]
	if !ok {
		return nil, fmt.Errorf("invalid gas price display type: %s", grade)
	}
	price := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if price == "" || price == "null" {
		return nil, fmt.Errorf("no price for display type %s", grade)
	}
	if _, err := strconv.ParseFloat(price, 64); err != nil {
		return nil, fmt.Errorf("invalid price data %q", price)
	}
	return task.Payload{
		"icon":     icon,
		"textCase": 2,
		"text":     "¥ " + price,
	}, nil
}
