package gateway

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// defaultIndexes mirrors the original's directory-index fallback for
// extensionless gateway requests (`indexes = vec!["index.php",
// "index.cgi"]` in fcgi.rs / cgi.rs).
var defaultIndexes = []string{"index.php", "index.cgi"}

// statFunc abstracts filesystem lookups so resolveScript is testable
// without a real directory tree.
type statFunc func(path string) (isDir bool, isFile bool)

func osStat(path string) (isDir bool, isFile bool) {
	info, err := os.Stat(path)
	if err != nil {
		return false, false
	}
	return info.IsDir(), info.Mode().IsRegular()
}

// resolveScript maps a request path to an executable script file under
// wwwroot, following original_source's execute_fastcgi/execute_cgi path
// search: an exact file with a recognized extension executes directly;
// a directory tries its default indexes; failing both, resolveScript
// walks up the path looking for a file with a recognized extension,
// treating everything past it as PATH_INFO.
func resolveScript(wwwroot, requestPath string, scriptExts []string, stat statFunc) (scriptPath, pathInfo string, ok bool) {
	if stat == nil {
		stat = osStat
	}
	if !strings.HasPrefix(requestPath, "/") {
		return "", "", false
	}

	relative := strings.TrimLeft(requestPath, "/")
	decoded, err := url.PathUnescape(relative)
	if err != nil {
		return "", "", false
	}
	joined := filepath.Join(wwwroot, decoded)

	isDir, isFile := stat(joined)
	switch {
	case isFile:
		if hasScriptExt(joined, scriptExts) {
			return joined, "", true
		}
	case isDir:
		for _, index := range defaultIndexes {
			candidate := filepath.Join(joined, index)
			if d, f := stat(candidate); f && !d && hasScriptExt(candidate, scriptExts) {
				return candidate, "", true
			}
		}
		return "", "", false
	}

	return walkUpForScript(wwwroot, joined, scriptExts, stat)
}

// walkUpForScript climbs from path toward wwwroot, stopping at the
// first ancestor that is a regular file with a recognized script
// extension; everything stripped off becomes PATH_INFO.
func walkUpForScript(wwwroot, path string, scriptExts []string, stat statFunc) (scriptPath, pathInfo string, ok bool) {
	wwwroot = filepath.Clean(wwwroot)
	current := filepath.Clean(path)
	for {
		parent := filepath.Dir(current)
		if parent == current || !strings.HasPrefix(current, wwwroot) {
			return "", "", false
		}
		if d, f := stat(parent); f && !d {
			if !hasScriptExt(parent, scriptExts) {
				return "", "", false
			}
			rel, err := filepath.Rel(parent, path)
			if err != nil {
				rel = ""
			}
			rel = filepath.ToSlash(rel)
			if rel == "." {
				rel = ""
			}
			return parent, rel, true
		} else if d {
			return "", "", false
		}
		current = parent
	}
}

func hasScriptExt(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, e := range exts {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}
