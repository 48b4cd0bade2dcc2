package static

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
)

// minCompressibleSize mirrors the original's threshold below which
// compressing a response isn't worth the CPU.
const minCompressibleSize = 256

// nonCompressibleExtensions mirrors the original's hard-coded list of
// already-compressed or inherently incompressible file formats, so
// static serving doesn't waste CPU re-compressing them.
var nonCompressibleExtensions = map[string]bool{
	"7z": true, "air": true, "amlx": true, "apk": true, "apng": true,
	"appinstaller": true, "appx": true, "appxbundle": true, "arj": true,
	"au": true, "avif": true, "bdoc": true, "boz": true, "br": true,
	"bz": true, "bz2": true, "caf": true, "class": true, "doc": true,
	"docx": true, "dot": true, "dvi": true, "ear": true, "epub": true,
	"flv": true, "gdoc": true, "gif": true, "gsheet": true, "gslides": true,
	"gz": true, "iges": true, "igs": true, "jar": true, "jnlp": true,
	"jp2": true, "jpe": true, "jpeg": true, "jpf": true, "jpg": true,
	"jpg2": true, "jpgm": true, "jpm": true, "jpx": true, "kmz": true,
	"latex": true, "m1v": true, "m2a": true, "m2v": true, "m3a": true,
	"m4a": true, "mesh": true, "mk3d": true, "mks": true, "mkv": true,
	"mov": true, "mp2": true, "mp2a": true, "mp3": true, "mp4": true,
	"mp4a": true, "mp4v": true, "mpe": true, "mpeg": true, "mpg": true,
	"mpg4": true, "mpga": true, "msg": true, "msh": true, "msix": true,
	"msixbundle": true, "odg": true, "odp": true, "ods": true, "odt": true,
	"oga": true, "ogg": true, "ogv": true, "ogx": true, "opus": true,
	"p12": true, "pdf": true, "pfx": true, "pgp": true, "pkpass": true,
	"png": true, "pot": true, "pps": true, "ppt": true, "pptx": true,
	"qt": true, "ser": true, "silo": true, "sit": true, "snd": true,
	"spx": true, "stpxz": true, "stpz": true, "swf": true, "tif": true,
	"tiff": true, "ubj": true, "usdz": true, "vbox-extpack": true,
	"vrml": true, "war": true, "wav": true, "weba": true, "webm": true,
	"wmv": true, "wrl": true, "x3dbz": true, "x3dvz": true, "xla": true,
	"xlc": true, "xlm": true, "xls": true, "xlsx": true, "xlt": true,
	"xlw": true, "xpi": true, "xps": true, "zip": true, "zst": true,
}

func isCompressibleExtension(path string) bool {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	return !nonCompressibleExtensions[strings.ToLower(ext)]
}

// hasBrokenCompressionSupport replicates the original's User-Agent
// sniffing for browsers known to mishandle HTTP compression: every
// Netscape 4.x build for HTML, Netscape 4.06-4.08 for every content
// type, and w3m for HTML.
func hasBrokenCompressionSupport(userAgent, contentType string) bool {
	isNetscape4 := strings.HasPrefix(userAgent, "Mozilla/4.")
	isNetscape4HTMLBroken := isNetscape4 && contentType == "text/html"
	isNetscape4CompressionBroken := false
	if stripped, ok := strings.CutPrefix(userAgent, "Mozilla/4."); ok && len(stripped) > 1 && stripped[0] == '0' {
		switch stripped[1] {
		case '6', '7', '8':
			isNetscape4CompressionBroken = true
		}
	}
	isW3mHTMLBroken := strings.HasPrefix(userAgent, "w3m/") && contentType == "text/html"
	return isNetscape4HTMLBroken || isW3mHTMLBroken || isNetscape4CompressionBroken
}

// negotiateEncoding picks br/zstd/deflate/gzip in that preference
// order from Accept-Encoding, or "" for an identity response, per the
// original's "checking Accept-Encoding naively" comment — a substring
// match, not a quality-value parser.
func negotiateEncoding(acceptEncoding, userAgent, contentType, path string, size int64) string {
	if size <= minCompressibleSize || !isCompressibleExtension(path) {
		return ""
	}
	if hasBrokenCompressionSupport(userAgent, contentType) {
		return ""
	}
	switch {
	case strings.Contains(acceptEncoding, "br"):
		return "br"
	case strings.Contains(acceptEncoding, "zstd"):
		return "zstd"
	case strings.Contains(acceptEncoding, "deflate"):
		return "deflate"
	case strings.Contains(acceptEncoding, "gzip"):
		return "gzip"
	default:
		return ""
	}
}

func newEncoder(w io.Writer, encoding string) (io.WriteCloser, error) {
	switch encoding {
	case "br":
		return brotli.NewWriter(w), nil
	case "zstd":
		return zstd.NewWriter(w)
	case "deflate":
		return flate.NewWriter(w, flate.DefaultCompression)
	case "gzip":
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	default:
		return nil, errUnsupportedEncoding{encoding}
	}
}

type errUnsupportedEncoding struct{ encoding string }

func (e errUnsupportedEncoding) Error() string { return "unsupported encoding: " + e.encoding }

// compressingBody streams file through the named encoding using a
// pipe, since the compress and brotli packages only expose
// Writer-side encoders. file is closed once fully read or on error.
func compressingBody(file *os.File, encoding string) io.ReadCloser {
	pr, pw := io.Pipe()
	enc, err := newEncoder(pw, encoding)
	if err != nil {
		file.Close()
		pw.CloseWithError(err)
		return pr
	}
	go func() {
		_, copyErr := io.Copy(enc, file)
		closeErr := enc.Close()
		file.Close()
		if copyErr != nil {
			pw.CloseWithError(copyErr)
			return
		}
		pw.CloseWithError(closeErr)
	}()
	return pr
}
