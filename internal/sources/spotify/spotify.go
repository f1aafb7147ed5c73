// Package spotify shows the track playing on the user's Spotify account
// with a progress bar. The OAuth token cache is created once with
// Authorize and refreshed on demand afterwards.
package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/config"
	"github.com/Golevka2001/awtrix-scripts/internal/sourcekit"
	"github.com/Golevka2001/awtrix-scripts/internal/task"
	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

const (
	Name = "spotify_current_playback"

	apiBase      = "https://api.spotify.com"
	accountsBase = "https://accounts.spotify.com"

	icon            = "48861"
	scrollSpeed     = 40
	progressColor   = "#ffffff"
	progressBGColor = "#666666"
	albumArtSize    = 8

	DefaultRedirectURI   = "http://127.0.0.1:1234"
	DefaultAuthCacheFile = "spotify_cache.json"
)

var textGradient = []string{"1dd760", "ffffff"}

// Options are the source specific keys of tasks.spotify_current_playback.
// ShowArtist, TrackNameFirst and CJKToInitials default to true.
type Options struct {
	ClientID       string `json:"client_id"`
	ClientSecret   string `json:"client_secret"`
	RedirectURI    string `json:"redirect_uri"`
	AuthCacheFile  string `json:"auth_cache_file"`
	ShowArtist     *bool  `json:"show_artist"`
	TrackNameFirst *bool  `json:"track_name_first"`
	CJKToInitials  *bool  `json:"cjk_to_initials"`
	DrawAlbumArt   bool   `json:"draw_album_art"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

type Source struct {
	env          sourcekit.Env
	apiBase      string
	accountsBase string

	// mu serializes token refreshes and cache file writes.
	mu sync.Mutex
}

func New(env sourcekit.Env) *Source {
	return &Source{env: env.WithDefaults(), apiBase: apiBase, accountsBase: accountsBase}
}

func (s *Source) Name() string { return Name }

func (s *Source) Defaults() sourcekit.Defaults {
	return sourcekit.Defaults{Interval: 10 * time.Second, Priority: sourcekit.DefaultPriority, Enabled: true}
}

func (s *Source) ErrorPayload() task.Payload { return sourcekit.ErrorPayload(icon) }

func (s *Source) ValidateOptions(c *config.Config) error {
	var o Options
	return sourcekit.Options(c, Name, &o)
}

func (s *Source) options() (Options, error) {
	var o Options
	if err := sourcekit.Options(s.env.Config(), Name, &o); err != nil {
		return o, fmt.Errorf("%s options: %w", Name, err)
	}
	if o.RedirectURI == "" {
		o.RedirectURI = DefaultRedirectURI
	}
	if o.AuthCacheFile == "" {
		o.AuthCacheFile = DefaultAuthCacheFile
	}
	return o, nil
}

// cachePath resolves auth_cache_file against app.store_dir.
func (s *Source) cachePath(o Options) string {
	if filepath.IsAbs(o.AuthCacheFile) {
		return o.AuthCacheFile
	}
	dir := "."
	if c := s.env.Config(); c != nil && c.App.StoreDir != "" {
		dir = c.App.StoreDir
	}
	return filepath.Join(dir, o.AuthCacheFile)
}

type artist struct {
	Name string `json:"name"`
}

type image struct {
	URL string `json:"url"`
}

type track struct {
	Name       string   `json:"name"`
	DurationMS int64    `json:"duration_ms"`
	Artists    []artist `json:"artists"`
	Album      struct {
		Images []image `json:"images"`
	} `json:"album"`
}

type playback struct {
	IsPlaying  bool   `json:"is_playing"`
	ProgressMS int64  `json:"progress_ms"`
	Item       *track `json:"item"`
}

// Fetch returns the empty payload when nothing is playing, which removes
// the app from the display.
func (s *Source) Fetch(ctx context.Context) (task.Payload, error) {
	o, err := s.options()
	if err != nil {
		return nil, err
	}
	token, err := s.accessToken(ctx, o)
	if err != nil {
		return nil, err
	}

	body, err := s.env.Client.Get(ctx, s.apiBase+"/v1/me/player", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if err != nil {
		return nil, err
	}
	// 204 No Content: no active device.
	if len(bytes.TrimSpace(body)) == 0 {
		return task.Empty(), nil
	}
	var pb playback
	if err := json.Unmarshal(body, &pb); err != nil {
		return nil, fmt.Errorf("decode playback: %w", err)
	}
	if !pb.IsPlaying || pb.Item == nil {
		return task.Empty(), nil
	}

	p := render(o, pb)
	if o.DrawAlbumArt {
		if imgs := pb.Item.Album.Images; len(imgs) > 0 && imgs[len(imgs)-1].URL != "" {
			// Spotify lists album images largest first.
			enc, err := s.env.Icons.Render(ctx, imgs[len(imgs)-1].URL, albumArtSize, albumArtSize, "JPG")
			if err != nil {
				s.env.Log.Warn("album art render failed; using default icon", logx.String("task", Name), logx.Err(err))
			} else {
				p["icon"] = enc
			}
		}
	}
	return p, nil
}

func render(o Options, pb playback) task.Payload {
	it := pb.Item
	name := it.Name
	if name == "" {
		name = "Unknown"
	}
	text := name
	if boolOr(o.ShowArtist, true) {
		by := "Unknown"
		if len(it.Artists) > 0 && it.Artists[0].Name != "" {
			by = it.Artists[0].Name
		}
		if boolOr(o.TrackNameFirst, true) {
			text = name + " - " + by
		} else {
			text = by + " - " + name
		}
	}
	if boolOr(o.CJKToInitials, true) {
		text = sourcekit.CJKInitials(text, "")
	}

	duration := it.DurationMS
	if duration <= 0 {
		duration = 1
	}
	progress := int(math.RoundToEven(float64(pb.ProgressMS) / float64(duration) * 100))

	return task.Payload{
		"icon":        icon,
		"textCase":    2,
		"text":        text,
		"gradient":    textGradient,
		"scrollSpeed": scrollSpeed,
		"progress":    progress,
		"progressC":   progressColor,
		"progressBC":  progressBGColor,
	}
}
