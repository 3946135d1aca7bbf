package server

import (
	"regexp"
	"strconv"
)

var rangePattern = regexp.MustCompile(`(\d*)-(\d*)`)

// resolveRange maps a Range header onto a validated inclusive byte interval
// for a file of the given size. It never fails: a missing bound defaults to
// the file edge and out-of-bounds values are clamped to the nearest valid
// interval, which is what media players expect from permissive servers.
//
// Known limitation: multi-range requests and suffix ranges ("bytes=-500"
// meaning the last 500 bytes) are not interpreted beyond what the numeric
// pattern captures; a suffix range degrades to an interval from byte zero.
func resolveRange(header string, size int64) (start, end int64) {
	start, end = 0, size-1

	match := rangePattern.FindStringSubmatch(header)
	if match == nil {
		return start, end
	}

	if match[1] != "" {
		if v, err := strconv.ParseInt(match[1], 10, 64); err == nil {
			start = v
		}
	}
	if match[2] != "" {
		if v, err := strconv.ParseInt(match[2], 10, 64); err == nil {
			end = v
		}
	}

	if start < 0 {
		start = 0
	}
	if start > size-1 {
		start = size - 1
	}
	if end < start {
		end = start
	}
	if end > size-1 {
		end = size - 1
	}

	return start, end
}
