package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Golevka2001/awtrix-scripts/internal/task"
	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

// fileStore keeps state as JSON documents in a directory:
//   - last_run.json    task name -> unix seconds (float)
//   - enabled.json     task name -> bool
//   - image_cache.json reserved for the icon cache
//   - <task>.json      last successful payload of a task
//
// Every write goes through a temp file and rename so a crash never leaves a
// truncated document behind.
type fileStore struct {
	log logx.Logger
	dir string

	mu     sync.Mutex
	closed bool
}

const (
	runRecordsFile     = "last_run.json"
	enabledRecordsFile = "enabled.json"
)

var reservedNames = map[string]struct{}{
	"last_run":    {},
	"enabled":     {},
	"image_cache": {},
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, dir: dir}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fileStore) LoadRunRecords(ctx context.Context) (RunRecords, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	var raw map[string]float64
	s.readJSON(runRecordsFile, &raw)
	out := make(RunRecords, len(raw))
	for name, sec := range raw {
		if sec <= 0 || math.IsNaN(sec) || math.IsInf(sec, 0) {
			continue
		}
		out[name] = fromUnixSeconds(sec)
	}
	return out, nil
}

func (s *fileStore) SaveRunRecords(ctx context.Context, r RunRecords) error {
	_ = ctx
	raw := make(map[string]float64, len(r))
	for name, t := range r {
		if t.IsZero() {
			continue
		}
		raw[name] = toUnixSeconds(t)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.writeJSON(runRecordsFile, raw)
}

func (s *fileStore) LoadEnabledRecords(ctx context.Context) (EnabledRecords, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := EnabledRecords{}
	s.readJSON(enabledRecordsFile, &out)
	if out == nil {
		out = EnabledRecords{}
	}
	return out, nil
}

func (s *fileStore) SaveEnabledRecords(ctx context.Context, r EnabledRecords) error {
	_ = ctx
	if r == nil {
		r = EnabledRecords{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.writeJSON(enabledRecordsFile, r)
}

func (s *fileStore) LoadCached(ctx context.Context, name string) (task.Payload, bool, error) {
	_ = ctx
	if err := checkFileName(name); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	b, err := os.ReadFile(filepath.Join(s.dir, name+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var p task.Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, false, fmt.Errorf("decode cached %s: %w", name, err)
	}
	if p == nil {
		return nil, false, nil
	}
	return p, true, nil
}

func (s *fileStore) SaveCached(ctx context.Context, name string, p task.Payload) error {
	_ = ctx
	if err := checkFileName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.writeJSON(name+".json", p)
}

func (s *fileStore) DeleteCached(ctx context.Context, name string) error {
	_ = ctx
	if err := checkFileName(name); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	err := os.Remove(filepath.Join(s.dir, name+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// readJSON decodes file into v. A missing or corrupt file leaves v untouched;
// corruption is logged and otherwise treated like a cold start.
func (s *fileStore) readJSON(file string, v any) {
	b, err := os.ReadFile(filepath.Join(s.dir, file))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("state read failed", logx.String("file", file), logx.Err(err))
		}
		return
	}
	if err := json.Unmarshal(b, v); err != nil {
		s.log.Warn("state file corrupt, ignoring", logx.String("file", file), logx.Err(err))
	}
}

func (s *fileStore) writeJSON(file string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}

	path := filepath.Join(s.dir, file)
	tmp, err := os.CreateTemp(s.dir, "."+file+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

func checkFileName(name string) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if _, ok := reservedNames[name]; ok {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	return nil
}

func toUnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*float64(time.Second)))
}
