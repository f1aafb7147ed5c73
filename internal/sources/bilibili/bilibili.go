// Package bilibili shows the follower count of a Bilibili account.
package bilibili

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/config"
	"github.com/Golevka2001/awtrix-scripts/internal/sourcekit"
	"github.com/Golevka2001/awtrix-scripts/internal/task"
)

const (
	Name = "bilibili_followers"

	apiURL = "https://api.bilibili.com/x/relation/stat"
	icon   = "71441"
)

// Options are the source specific keys of tasks.bilibili_followers.
type Options struct {
	UID config.Scalar `json:"uid"`
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
	return sourcekit.Defaults{Interval: time.Hour, Priority: sourcekit.DefaultPriority, Enabled: true}
}

func (s *Source) ErrorPayload() task.Payload { return sourcekit.ErrorPayload(icon) }

func (s *Source) ValidateOptions(c *config.Config) error {
	var o Options
	return sourcekit.Options(c, Name, &o)
}

type response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		Follower *int64 `json:"follower"`
	} `json:"data"`
}

func (s *Source) Fetch(ctx context.Context) (task.Payload, error) {
	var o Options
	if err := sourcekit.Options(s.env.Config(), Name, &o); err != nil {
		return nil, fmt.Errorf("%s options: %w", Name, err)
	}
	if o.UID == "" {
		return nil, errors.New("bilibili uid not configured")
	}

	var resp response
	q := url.Values{"vmid": {o.UID.String()}, "jsonp": {"jsonp"}}
	if err := s.env.Client.GetJSON(ctx, s.apiURL, q, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("bilibili api error: %s (code: %d)", resp.Message, resp.Code)
	}
	if resp.Data == nil || resp.Data.Follower == nil {
		return nil, errors.New("missing followers data in api response")
	}
	return task.Payload{
		"icon":     icon,
		"textCase": 2,
		"text":     sourcekit.FormatNumber(float64(*resp.Data.Follower)),
	}, nil
}
