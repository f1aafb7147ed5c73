package spotify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

// Scopes requested by Authorize.
var Scopes = []string{"user-read-currently-playing", "user-read-playback-state"}

// Tokens are refreshed this long before they expire.
const expiryMargin = 60 * time.Second

var (
	// ErrNotAuthorized means there is no usable token cache; run the
	// authorization flow once.
	ErrNotAuthorized = errors.New("spotify not authorized")

	errNoCredentials = errors.New("spotify client_id and client_secret not configured")
)

// tokenCache is the on-disk token file. ExpiresAt is a unix timestamp.
type tokenCache struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
}

func readTokenCache(path string) (tokenCache, error) {
	var tc tokenCache
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return tc, fmt.Errorf("%w: token cache %s missing", ErrNotAuthorized, path)
	}
	if err != nil {
		return tc, fmt.Errorf("read token cache: %w", err)
	}
	if err := json.Unmarshal(b, &tc); err != nil {
		return tc, fmt.Errorf("%w: token cache %s: %v", ErrNotAuthorized, path, err)
	}
	return tc, nil
}

func writeTokenCache(path string, tc tokenCache) error {
	b, err := json.Marshal(tc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// accessToken returns a valid access token, refreshing and rewriting the
// cache when the stored one is about to expire.
func (s *Source) accessToken(ctx context.Context, o Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.cachePath(o)
	tc, err := readTokenCache(path)
	if err != nil {
		return "", err
	}
	if tc.AccessToken != "" && s.env.Now().Add(expiryMargin).Unix() < tc.ExpiresAt {
		return tc.AccessToken, nil
	}
	if tc.RefreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token in %s", ErrNotAuthorized, path)
	}

	fresh, err := s.requestToken(ctx, o, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tc.RefreshToken},
	})
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	// Spotify only sometimes rotates the refresh token.
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tc.RefreshToken
	}
	if err := writeTokenCache(path, fresh); err != nil {
		s.env.Log.Warn("token cache not written", logx.String("task", Name), logx.Err(err))
	}
	return fresh.AccessToken, nil
}

func (s *Source) requestToken(ctx context.Context, o Options, form url.Values) (tokenCache, error) {
	var tc tokenCache
	if o.ClientID == "" || o.ClientSecret == "" {
		return tc, errNoCredentials
	}
	basic := base64.StdEncoding.EncodeToString([]byte(o.ClientID + ":" + o.ClientSecret))
	body, err := s.env.Client.PostForm(ctx, s.accountsBase+"/api/token", form, map[string]string{
		"Authorization": "Basic " + basic,
	})
	if err != nil {
		return tc, err
	}
	if err := json.Unmarshal(body, &tc); err != nil {
		return tc, fmt.Errorf("decode token: %w", err)
	}
	if tc.AccessToken == "" {
		return tc, errors.New("token response without access_token")
	}
	tc.ExpiresAt = s.env.Now().Add(time.Duration(tc.ExpiresIn) * time.Second).Unix()
	return tc, nil
}

// AuthorizeURL is the consent page to open once in a browser. state is
// echoed back in the redirect.
func (s *Source) AuthorizeURL(state string) (string, error) {
	o, err := s.options()
	if err != nil {
		return "", err
	}
	if o.ClientID == "" || o.ClientSecret == "" {
		return "", errNoCredentials
	}
	q := url.Values{
		"client_id":     {o.ClientID},
		"response_type": {"code"},
		"redirect_uri":  {o.RedirectURI},
		"scope":         {strings.Join(Scopes, " ")},
		"state":         {state},
	}
	return s.accountsBase + "/authorize?" + q.Encode(), nil
}

// Authorize exchanges the code from the redirect for tokens and writes the
// token cache. redirected is either the full URL the browser was sent to
// or the bare code. A state in the URL must match state.
func (s *Source) Authorize(ctx context.Context, redirected, state string) error {
	code := strings.TrimSpace(redirected)
	if u, err := url.Parse(code); err == nil && u.RawQuery != "" {
		q := u.Query()
		if e := q.Get("error"); e != "" {
			return fmt.Errorf("authorization denied: %s", e)
		}
		if got := q.Get("state"); got != "" && got != state {
			return errors.New("authorization state mismatch")
		}
		code = q.Get("code")
	}
	if code == "" {
		return errors.New("no authorization code")
	}

	o, err := s.options()
	if err != nil {
		return err
	}
	tc, err := s.requestToken(ctx, o, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {o.RedirectURI},
	})
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.cachePath(o)
	if err := writeTokenCache(path, tc); err != nil {
		return fmt.Errorf("write token cache: %w", err)
	}
	s.env.Log.Info("spotify authorized", logx.String("cache", path))
	return nil
}
