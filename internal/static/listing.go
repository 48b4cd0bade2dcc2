package static

import (
	"fmt"
	"html"
	"os"
	"sort"
	"strings"
)

// renderDirectoryListing builds a minimal HTML index of a directory's
// entries, grounded on
// original_source/ferron/src/ferron_util/generate_directory_listing.rs:
// a sorted entry list (directories first), each entry's name escaped
// and linked relative to requestPath, with an optional ".maindesc"
// description rendered above the listing.
func renderDirectoryListing(entries []os.DirEntry, requestPath, description string) string {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><title>Index of ")
	b.WriteString(html.EscapeString(requestPath))
	b.WriteString("</title></head><body>\n<h1>Index of ")
	b.WriteString(html.EscapeString(requestPath))
	b.WriteString("</h1>\n")

	if description != "" {
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(description))
		b.WriteString("</p>\n")
	}

	b.WriteString("<ul>\n")
	if requestPath != "/" {
		b.WriteString(`<li><a href="../">../</a></li>` + "\n")
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		display := name
		if e.IsDir() {
			display = name + "/"
		}
		fmt.Fprintf(&b, "<li><a href=\"%s\">%s</a></li>\n", html.EscapeString(display), html.EscapeString(display))
	}
	b.WriteString("</ul>\n</body></html>\n")
	return b.String()
}
