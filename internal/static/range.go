package static

import (
	"strconv"
	"strings"
)

// parseRange decodes a single `bytes=start-end` Range header value
// against a file of the given length, per
// original_source/ferron/src/modules/static_file_serving.rs's
// parse_range_header: open-start ("-N" means the last N bytes),
// open-end ("N-" means from N to the end), or fully bounded. ok is
// false for anything unparseable or outside [0, length).
func parseRange(rangeHeader string, length int64) (start, end int64, ok bool) {
	body, found := strings.CutPrefix(rangeHeader, "bytes=")
	if !found {
		return 0, 0, false
	}
	parts := strings.SplitN(body, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	switch {
	case parts[0] == "" && parts[1] != "":
		suffix, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, false
		}
		start, end = length-suffix, length-1
	case parts[1] == "" && parts[0] != "":
		s, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return 0, 0, false
		}
		start, end = s, length-1
	case parts[0] != "" && parts[1] != "":
		s, err1 := strconv.ParseInt(parts[0], 10, 64)
		e, err2 := strconv.ParseInt(parts[1], 10, 64)
		if err1 != nil || err2 != nil {
			return 0, 0, false
		}
		start, end = s, e
	default:
		return 0, 0, false
	}

	if start < 0 || end > length-1 || start > end {
		return 0, 0, false
	}
	return start, end, true
}
