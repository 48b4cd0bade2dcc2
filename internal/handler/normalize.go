package handler

import (
	"net/url"
	"strings"

	"ferron/internal/errs"
)

// NormalizePath implements spec.md §4.9 step 2: reject an empty path,
// collapse "//" runs unless allowDoubleSlashes, and return the
// percent-decoded form used for filter-tree matching only (the request
// URL itself is left percent-encoded, matching net/http's own
// convention).
func NormalizePath(rawPath string, allowDoubleSlashes bool) (matchPath string, err error) {
	if rawPath == "" {
		return "", errs.Newf(errs.KindClient, "empty request path").WithStatus(400)
	}

	path := rawPath
	if !allowDoubleSlashes {
		for strings.Contains(path, "//") {
			path = strings.ReplaceAll(path, "//", "/")
		}
	}

	decoded, decErr := url.PathUnescape(path)
	if decErr != nil {
		return "", errs.New(errs.KindClient, decErr).WithStatus(400)
	}
	return decoded, nil
}

// LocationSegments splits a percent-decoded match path into its
// "/"-delimited segments for filter-tree descent, per spec.md §4.1's
// "each `/`-delimited location path segment".
func LocationSegments(matchPath string) []string {
	trimmed := strings.Trim(matchPath, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
