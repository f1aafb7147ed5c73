package sourcekit

import (
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/task"
	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

// Env carries the shared dependencies handed to every source constructor.
type Env struct {
	Config ConfigFunc
	Client *Client
	Icons  *IconRenderer
	Now    func() time.Time
	Log    logx.Logger
}

// WithDefaults fills unset dependencies.
func (e Env) WithDefaults() Env {
	if e.Client == nil {
		e.Client = NewClient()
	}
	if e.Icons == nil {
		e.Icons = &IconRenderer{Client: e.Client}
	}
	if e.Now == nil {
		e.Now = time.Now
	}
	if e.Log.IsZero() {
		e.Log = logx.Nop()
	}
	return e
}

// ErrorPayload is the generic error message with a source icon.
func ErrorPayload(icon string) task.Payload {
	p := task.DefaultErrorPayload()
	if icon != "" {
		p["icon"] = icon
	}
	return p
}
