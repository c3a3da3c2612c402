package plan

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Select turns a user core request into the test order.
//
// An empty request selects every core. Duplicates keep their first
// appearance, ids outside [0, physicalCount) are dropped, and the survivors
// are ordered lowest, highest, next lowest, next highest, ... so that the
// run alternates between the two ends of the die.
func Select(requested []int, physicalCount int) []int {
	if physicalCount <= 0 {
		return []int{}
	}

	var ids []int
	if len(requested) == 0 {
		ids = make([]int, physicalCount)
		for i := range ids {
			ids[i] = i
		}
	} else {
		seen := make(map[int]struct{}, len(requested))
		ids = make([]int, 0, len(requested))
		for _, id := range requested {
			if id < 0 || id >= physicalCount {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	return alternate(ids)
}

// alternate returns ids sorted and interleaved from both ends.
func alternate(ids []int) []int {
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)

	out := make([]int, 0, len(sorted))
	lo, hi := 0, len(sorted)-1
	for lo <= hi {
		out = append(out, sorted[lo])
		if lo != hi {
			out = append(out, sorted[hi])
		}
		lo++
		hi--
	}
	return out
}

// MaxCoreID is the largest core id ParseCoreList accepts. It matches the
// kernel's CPU_SETSIZE of 1024.
const MaxCoreID = 1023

// ParseCoreList parses a comma separated list of core ids and inclusive
// ranges, e.g. "0,2-4,7". An empty string yields an empty list. Ids above
// MaxCoreID are rejected before any range is expanded.
func ParseCoreList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "all") {
		return nil, nil
	}

	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, fmt.Errorf("invalid core range %q: %w", part, err)
			}
			end, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, fmt.Errorf("invalid core range %q: %w", part, err)
			}
			if end < start {
				return nil, fmt.Errorf("invalid core range %q: end before start", part)
			}
			if start < 0 || end > MaxCoreID {
				return nil, fmt.Errorf("invalid core range %q: ids must be within 0-%d", part, MaxCoreID)
			}
			for id := start; id <= end; id++ {
				ids = append(ids, id)
			}
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid core id %q: %w", part, err)
		}
		if id < 0 || id > MaxCoreID {
			return nil, fmt.Errorf("invalid core id %q: must be within 0-%d", part, MaxCoreID)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
