package scheduler

import "fmt"

// HourRange is a half-open [Start, End) range of local hours. End may be 24.
type HourRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r HourRange) String() string { return fmt.Sprintf("[%d,%d)", r.Start, r.End) }

func (r HourRange) valid() bool {
	return r.Start >= 0 && r.Start <= 23 && r.End >= 1 && r.End <= 24 && r.Start < r.End
}

func (r HourRange) contains(hour int) bool { return hour >= r.Start && hour < r.End }

// DefaultHours is used when the configured window is missing or unusable.
func DefaultHours() []HourRange {
	return []HourRange{{Start: 0, End: 1}, {Start: 8, End: 24}}
}

// ParseHourRange checks one [start, end] pair.
func ParseHourRange(pair []int) (HourRange, error) {
	if len(pair) != 2 {
		return HourRange{}, fmt.Errorf("want [start, end], got %v", pair)
	}
	r := HourRange{Start: pair[0], End: pair[1]}
	if !r.valid() {
		return HourRange{}, fmt.Errorf("%v out of range (0 <= start < end <= 24)", pair)
	}
	return r, nil
}

// ParseHourRanges converts [[start,end], ...] pairs. Malformed pairs are
// dropped and reported in problems; if nothing usable is left the default
// window is returned.
func ParseHourRanges(raw [][]int) (ranges []HourRange, problems []string) {
	for i, pair := range raw {
		r, err := ParseHourRange(pair)
		if err != nil {
			problems = append(problems, fmt.Sprintf("allowed_hours[%d]: %v", i, err))
			continue
		}
		ranges = append(ranges, r)
	}
	return OrDefault(ranges, len(raw), problems)
}

// OrDefault returns ranges, or DefaultHours with one more problem when
// none of the given entries was usable.
func OrDefault(ranges []HourRange, given int, problems []string) ([]HourRange, []string) {
	if len(ranges) > 0 {
		return ranges, problems
	}
	if given > 0 {
		problems = append(problems, "allowed_hours: no usable range, using default")
	}
	return DefaultHours(), problems
}

// Allowed reports whether hour falls in any range. An empty list falls back
// to DefaultHours.
func Allowed(ranges []HourRange, hour int) bool {
	if len(ranges) == 0 {
		ranges = DefaultHours()
	}
	for _, r := range ranges {
		if r.contains(hour) {
			return true
		}
	}
	return false
}
