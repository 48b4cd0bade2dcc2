package static

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// defaultIndexes mirrors the original's directory-index fallback list.
var defaultIndexes = []string{"index.html", "index.htm", "index.xhtml"}

// resolvePath joins requestPath under wwwroot and classifies the
// result, mirroring the original's metadata lookup: an exact file
// match is served directly; a directory match tries the default
// indexes in order; neither existing is reported via ok=false.
func resolvePath(wwwroot, requestPath string) (resolved string, isDir bool, ok bool, err error) {
	relative := strings.TrimLeft(requestPath, "/")
	decoded, decodeErr := url.PathUnescape(relative)
	if decodeErr != nil {
		return "", false, false, decodeErr
	}
	joined := filepath.Join(wwwroot, decoded)

	info, statErr := os.Stat(joined)
	if statErr != nil {
		return "", false, false, nil
	}
	if info.IsDir() {
		for _, index := range defaultIndexes {
			candidate := filepath.Join(joined, index)
			if fi, ferr := os.Stat(candidate); ferr == nil && fi.Mode().IsRegular() {
				return candidate, false, true, nil
			}
		}
		return joined, true, true, nil
	}
	return joined, false, true, nil
}
