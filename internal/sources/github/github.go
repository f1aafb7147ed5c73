// Package github shows the follower count of a GitHub account, optionally
// with the account avatar as the icon.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/config"
	"github.com/Golevka2001/awtrix-scripts/internal/sourcekit"
	"github.com/Golevka2001/awtrix-scripts/internal/task"
	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

const (
	Name = "github_followers"

	apiBase    = "https://api.github.com"
	icon       = "71442"
	avatarSize = 8
)

// Options are the source specific keys of tasks.github_followers. A token
// selects the authenticated user endpoint; otherwise Username is looked up.
type Options struct {
	Token      string `json:"token"`
	Username   string `json:"username"`
	DrawAvatar bool   `json:"draw_avatar"`
}

type Source struct {
	env     sourcekit.Env
	apiBase string
}

func New(env sourcekit.Env) *Source {
	return &Source{env: env.WithDefaults(), apiBase: apiBase}
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

type user struct {
	Followers *int64 `json:"followers"`
	AvatarURL string `json:"avatar_url"`
}

func (s *Source) Fetch(ctx context.Context) (task.Payload, error) {
	var o Options
	if err := sourcekit.Options(s.env.Config(), Name, &o); err != nil {
		return nil, fmt.Errorf("%s options: %w", Name, err)
	}

	var (
		endpoint string
		headers  map[string]string
	)
	switch {
	case o.Token != "":
		endpoint = s.apiBase + "/user"
		headers = map[string]string{
			"Accept":               "application/vnd.github+json",
			"Authorization":        "Bearer " + o.Token,
			"X-GitHub-Api-Version": "2022-11-28",
		}
	case o.Username != "":
		endpoint = s.apiBase + "/users/" + url.PathEscape(strings.TrimSpace(o.Username))
	default:
		return nil, errors.New("github token or username not configured")
	}

	var u user
	if err := s.env.Client.GetJSON(ctx, endpoint, nil, headers, &u); err != nil {
		return nil, err
	}
	if u.Followers == nil {
		return nil, errors.New("missing followers data in api response")
	}

	iconValue := icon
	if o.DrawAvatar && u.AvatarURL != "" {
		if enc, err := s.env.Icons.Render(ctx, u.AvatarURL, avatarSize, avatarSize, "JPG"); err != nil {
			s.env.Log.Warn("avatar render failed; using default icon", logx.String("task", Name), logx.Err(err))
		} else {
			iconValue = enc
		}
	}

	return task.Payload{
		"icon":     iconValue,
		"textCase": 2,
		"text":     sourcekit.FormatNumber(float64(*u.Followers)),
	}, nil
}
