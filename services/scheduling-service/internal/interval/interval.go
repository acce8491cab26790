package interval

import (
	"sort"
	"time"
)

// Interval is a half-open time range [Start, End). Two intervals that only
// touch at a boundary (a.End == b.Start) do not overlap.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Valid() bool {
	return iv.End.After(iv.Start)
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Contains reports whether other lies entirely within iv.
func (iv Interval) Contains(other Interval) bool {
	return !other.Start.Before(iv.Start) && !other.End.After(iv.End)
}

// Clip returns the part of iv that falls within bounds. The second return is
// false when nothing remains.
func Clip(iv, bounds Interval) (Interval, bool) {
	s := iv.Start
	e := iv.End
	if s.Before(bounds.Start) {
		s = bounds.Start
	}
	if e.After(bounds.End) {
		e = bounds.End
	}
	if !e.After(s) {
		return Interval{}, false
	}
	return Interval{Start: s, End: e}, true
}

// Merge sorts the input and coalesces overlapping or touching intervals.
// Invalid (zero or negative length) entries are dropped. The input slice is
// not modified.
func Merge(ivs []Interval) []Interval {
	var in []Interval
	for _, iv := range ivs {
		if iv.Valid() {
			in = append(in, iv)
		}
	}
	if len(in) == 0 {
		return nil
	}
	sort.Slice(in, func(i, j int) bool {
		if in[i].Start.Equal(in[j].Start) {
			return in[i].End.Before(in[j].End)
		}
		return in[i].Start.Before(in[j].Start)
	})

	merged := make([]Interval, 0, len(in))
	merged = append(merged, in[0])
	for _, cur := range in[1:] {
		last := &merged[len(merged)-1]
		if cur.Start.After(last.End) {
			merged = append(merged, cur)
			continue
		}
		if cur.End.After(last.End) {
			last.End = cur.End
		}
	}
	return merged
}

// Subtract returns the sub-intervals of window not covered by any busy
// interval. Busy intervals may overlap each other and extend past the window;
// they are clipped and merged first. Zero-length gaps are dropped.
func Subtract(window Interval, busy []Interval) []Interval {
	if !window.Valid() {
		return nil
	}

	var clipped []Interval
	for _, b := range busy {
		if c, ok := Clip(b, window); ok {
			clipped = append(clipped, c)
		}
	}
	if len(clipped) == 0 {
		return []Interval{window}
	}
	merged := Merge(clipped)

	var free []Interval
	cursor := window.Start
	for _, m := range merged {
		if m.Start.After(cursor) {
			free = append(free, Interval{Start: cursor, End: m.Start})
		}
		if m.End.After(cursor) {
			cursor = m.End
		}
	}
	if window.End.After(cursor) {
		free = append(free, Interval{Start: cursor, End: window.End})
	}
	return free
}

// Intersect computes the pairwise overlap of two interval lists. Both inputs
// are normalized first, so callers may pass unsorted, overlapping slices.
func Intersect(a, b []Interval) []Interval {
	as := Merge(a)
	bs := Merge(b)

	var out []Interval
	i, j := 0, 0
	for i < len(as) && j < len(bs) {
		s := as[i].Start
		if bs[j].Start.After(s) {
			s = bs[j].Start
		}
		e := as[i].End
		if bs[j].End.Before(e) {
			e = bs[j].End
		}
		if e.After(s) {
			out = append(out, Interval{Start: s, End: e})
		}
		if as[i].End.Before(bs[j].End) {
			i++
		} else {
			j++
		}
	}
	return out
}
