package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Golevka2001/awtrix-scripts/internal/task/scheduler"
)

// HourList is app.allowed_hours as written. Any JSON value decodes; entries
// are checked by Ranges, so one bad pair costs a warning, not the file.
type HourList []json.RawMessage

func (h *HourList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*h = nil
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		// Not a list: keep it as one entry so Ranges reports it.
		*h = HourList{append(json.RawMessage(nil), b...)}
		return nil
	}
	*h = items
	return nil
}

// Hours builds a HourList from integer pairs.
func Hours(pairs ...[2]int) HourList {
	out := make(HourList, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, json.RawMessage(fmt.Sprintf("[%d,%d]", p[0], p[1])))
	}
	return out
}

// Ranges returns the usable ranges and one problem per dropped entry. With
// nothing usable it returns the default window.
func (h HourList) Ranges() ([]scheduler.HourRange, []string) {
	var (
		ranges   []scheduler.HourRange
		problems []string
	)
	for i, raw := range h {
		pair, err := intPair(raw)
		var r scheduler.HourRange
		if err == nil {
			r, err = scheduler.ParseHourRange(pair)
		}
		if err != nil {
			problems = append(problems, fmt.Sprintf("allowed_hours[%d]: %v", i, err))
			continue
		}
		ranges = append(ranges, r)
	}
	return scheduler.OrDefault(ranges, len(h), problems)
}

// intPair accepts [8, 24] and [8, "24"]; 8.0 counts as an integer.
func intPair(raw json.RawMessage) ([]int, error) {
	var items []Scalar
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("want [start, end], got %s", raw)
	}
	out := make([]int, 0, len(items))
	for _, it := range items {
		s := strings.TrimSpace(it.String())
		n, err := strconv.Atoi(s)
		if err != nil {
			f, ferr := strconv.ParseFloat(s, 64)
			if ferr != nil || f != float64(int(f)) {
				return nil, fmt.Errorf("%q is not an hour in %s", s, raw)
			}
			n = int(f)
		}
		out = append(out, n)
	}
	return out, nil
}
