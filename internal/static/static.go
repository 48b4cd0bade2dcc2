// Package static implements the static file serving module described
// in spec.md §4.3: conditional GET/HEAD over a configured filesystem
// root, with Range support, compression negotiation, and an optional
// directory listing, grounded on
// original_source/ferron/src/modules/static_file_serving.rs.
package static

import (
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"ferron/internal/config"
	"ferron/internal/errs"
	"ferron/internal/module"
)

const Name = "static"

const defaultEtagCacheSize = 1000

// Loader builds Module instances for blocks declaring `root`. The
// module activates on `root` alone: any block naming a filesystem root
// gets this module, whether or not any other directive is present.
type Loader struct{}

func NewLoader() *Loader { return &Loader{} }

func (l *Loader) Requirements() []string { return []string{"root"} }

func (l *Loader) ValidateConfiguration(block *config.Block, used map[string]bool) error {
	for _, name := range []string{
		"root", "enable_etag", "enable_directory_listing", "enable_compression",
	} {
		if block.Has(name) {
			used[name] = true
		}
	}
	return nil
}

func (l *Loader) LoadModule(block, global *config.Block) (module.Module, error) {
	e, ok := block.GetOne("root")
	if !ok || len(e.Args) != 1 {
		return nil, errStaticConfig{"root requires exactly one path argument"}
	}

	return &Module{
		wwwroot:           e.Args[0].String(),
		enableETag:        boolSetting(block, "enable_etag", true),
		enableDirListing:  boolSetting(block, "enable_directory_listing", false),
		enableCompression: boolSetting(block, "enable_compression", true),
		etags:             newEtagCache(defaultEtagCacheSize),
	}, nil
}

type errStaticConfig struct{ msg string }

func (e errStaticConfig) Error() string { return e.msg }

func boolSetting(block *config.Block, name string, fallback bool) bool {
	e, ok := block.GetOne(name)
	if !ok || len(e.Args) != 1 {
		return fallback
	}
	return e.Args[0].IsTruthy()
}

// Module is the long-lived block-scoped static serving instance. The
// ETag cache survives config reloads that leave this block's identity
// unchanged, same as the cache module's contents.
type Module struct {
	wwwroot           string
	enableETag        bool
	enableDirListing  bool
	enableCompression bool
	etags             *etagCache
}

func (m *Module) Name() string                 { return Name }
func (m *Module) NewHandlers() module.Handlers { return &handlers{module: m} }
func (m *Module) Close() error                 { return nil }

type handlers struct{ module *Module }

func (h *handlers) RequestHandler(req *http.Request, block *config.Block, socket module.SocketData, logger *zap.Logger) (module.ResponseData, error) {
	if !strings.HasPrefix(req.URL.Path, "/") {
		return module.ResponseData{Status: http.StatusBadRequest}, nil
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return module.ResponseData{Request: req}, nil
	}

	resolved, isDir, found, err := resolvePath(h.module.wwwroot, req.URL.Path)
	if err != nil {
		return module.ResponseData{Status: http.StatusBadRequest}, nil
	}
	if !found {
		return module.ResponseData{Status: http.StatusNotFound}, nil
	}

	if isDir {
		return h.serveDirectory(req, resolved)
	}
	return h.serveFile(req, resolved, logger)
}

func (h *handlers) ResponseModifyingHandler(resp *http.Response) (*http.Response, error) {
	return resp, nil
}

func (h *handlers) serveDirectory(req *http.Request, dirPath string) (module.ResponseData, error) {
	if !h.module.enableDirListing {
		return module.ResponseData{Status: http.StatusForbidden}, nil
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsPermission(err) {
			return module.ResponseData{Status: http.StatusForbidden}, nil
		}
		return module.ResponseData{}, errs.New(errs.KindClient, err)
	}

	description := ""
	if contents, err := os.ReadFile(dirPath + "/.maindesc"); err == nil {
		description = string(contents)
	}

	body := renderDirectoryListing(entries, req.URL.Path, description)
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header: http.Header{
			"Content-Type":   {"text/html; charset=utf-8"},
			"Content-Length": {strconv.Itoa(len(body))},
		},
		Body: io.NopCloser(strings.NewReader(body)),
	}
	return module.ResponseData{Response: resp}, nil
}

func (h *handlers) serveFile(req *http.Request, filePath string, logger *zap.Logger) (module.ResponseData, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsPermission(err) {
			return module.ResponseData{Status: http.StatusForbidden}, nil
		}
		return module.ResponseData{Status: http.StatusNotFound}, nil
	}
	if !info.Mode().IsRegular() {
		return module.ResponseData{Status: http.StatusNotImplemented}, nil
	}

	header := http.Header{}
	var etag string
	if h.module.enableETag {
		etag = h.module.etags.get(filePath, info.Size(), info.ModTime())

		if inm := req.Header.Get("If-None-Match"); inm != "" && inm == etag {
			return module.ResponseData{Response: &http.Response{
				StatusCode: http.StatusNotModified,
				Header:     http.Header{"ETag": {etag}},
			}}, nil
		}
		if im := req.Header.Get("If-Match"); im != "" && im != "*" && im != etag {
			return module.ResponseData{Response: &http.Response{
				StatusCode: http.StatusPreconditionFailed,
				Header:     http.Header{"ETag": {im}},
			}}, nil
		}
		header.Set("ETag", etag)
	}

	contentType := detectContentType(filePath)
	header.Set("Content-Type", contentType)

	if rangeHeader := req.Header.Get("Range"); rangeHeader != "" {
		return h.serveRange(req, filePath, info, rangeHeader, header)
	}

	encoding := ""
	if h.module.enableCompression {
		encoding = negotiateEncoding(req.Header.Get("Accept-Encoding"), req.Header.Get("User-Agent"), contentType, filePath, info.Size())
	}

	header.Set("Accept-Ranges", "bytes")
	if encoding != "" {
		header.Set("Content-Encoding", encoding)
	} else {
		header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}

	if req.Method == http.MethodHead {
		return module.ResponseData{Response: &http.Response{StatusCode: http.StatusOK, Header: header, Body: http.NoBody}}, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		return module.ResponseData{Status: http.StatusNotFound}, nil
	}

	var body io.ReadCloser = file
	if encoding != "" {
		body = compressingBody(file, encoding)
	}

	return module.ResponseData{Response: &http.Response{StatusCode: http.StatusOK, Header: header, Body: body}}, nil
}

func (h *handlers) serveRange(req *http.Request, filePath string, info os.FileInfo, rangeHeader string, header http.Header) (module.ResponseData, error) {
	if info.Size() == 0 {
		return module.ResponseData{Status: http.StatusRequestedRangeNotSatisfiable}, nil
	}
	start, end, ok := parseRange(rangeHeader, info.Size())
	if !ok {
		return module.ResponseData{Status: http.StatusRequestedRangeNotSatisfiable}, nil
	}

	length := end - start + 1
	header.Set("Content-Length", strconv.FormatInt(length, 10))
	header.Set("Content-Range", "bytes "+strconv.FormatInt(start, 10)+"-"+strconv.FormatInt(end, 10)+"/"+strconv.FormatInt(info.Size(), 10))

	if req.Method == http.MethodHead {
		return module.ResponseData{Response: &http.Response{StatusCode: http.StatusPartialContent, Header: header, Body: http.NoBody}}, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		return module.ResponseData{Status: http.StatusNotFound}, nil
	}
	if _, err := file.Seek(start, io.SeekStart); err != nil {
		file.Close()
		return module.ResponseData{}, errs.New(errs.KindClient, err)
	}

	body := &limitedFile{Reader: io.LimitReader(file, length), file: file}
	return module.ResponseData{Response: &http.Response{StatusCode: http.StatusPartialContent, Header: header, Body: body}}, nil
}

// limitedFile closes the underlying *os.File once the limited range
// read completes, since io.NopCloser around io.LimitReader would leak
// the file descriptor.
type limitedFile struct {
	io.Reader
	file *os.File
}

func (l *limitedFile) Close() error { return l.file.Close() }
