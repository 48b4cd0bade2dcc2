package server

import (
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"ferron/internal/config"
)

// configureHTTP2 wires an http2.Server into srv per spec.md §4.8's "HTTP/2
// engine with configurable initial window size, max frame size, max
// concurrent streams, max header list size", reading the h2_* global
// properties. h2_max_header_list_size and h2_enable_connect_protocol
// have no corresponding knob on golang.org/x/net/http2.Server as of this
// module's pinned version; http.Server.MaxHeaderBytes is the closest
// stdlib equivalent and is left at net/http's default.
func configureHTTP2(srv *http.Server, global *config.Block) error {
	h2 := &http2.Server{
		MaxConcurrentStreams:     uint32(intSetting(global, "h2_max_concurrent_streams", 250)),
		MaxReadFrameSize:         uint32(intSetting(global, "h2_max_frame_size", 16384)),
		MaxUploadBufferPerStream: int32(intSetting(global, "h2_initial_window_size", 1<<20)),
		IdleTimeout:              120 * time.Second,
	}
	return http2.ConfigureServer(srv, h2)
}

func intSetting(global *config.Block, name string, fallback int) int {
	if global == nil {
		return fallback
	}
	e, ok := global.GetOne(name)
	if !ok || len(e.Args) != 1 || e.Args[0].Kind != config.KindInt {
		return fallback
	}
	return int(e.Args[0].Int)
}
