package static

import "github.com/gabriel-vasile/mimetype"

// detectContentType sniffs a file's MIME type from its content rather
// than only its extension, replacing the original's extension-only
// new_mime_guess lookup with a stricter content-based detector already
// present in this module's dependency graph (pulled in indirectly by
// go-playground/validator, promoted to direct here).
func detectContentType(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mtype.String()
}
