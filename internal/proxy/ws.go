package proxy

import (
	"io"
	"net"
	"net/http"

	"go.uber.org/zap"

	"ferron/internal/errs"
)

// Tunnel performs the raw byte-copy relay spec.md §4.6 describes for
// WebSocket/Upgrade requests: once outReq has been handed the client's
// Upgrade/Connection headers, Tunnel dials backendAddr itself (bypassing
// the keep-alive pool, since an upgraded connection is never returned to
// it), replays the request line and headers, and then copies bytes in
// both directions until either side closes.
func Tunnel(w http.ResponseWriter, outReq *http.Request, backendAddr string, logger *zap.Logger) error {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return errs.Newf(errs.KindUpstream, "response writer does not support hijacking")
	}

	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		return errs.New(errs.KindUpstream, err)
	}
	defer clientConn.Close()

	upstreamConn, err := net.Dial("tcp", backendAddr)
	if err != nil {
		return mapUpstreamError(err)
	}
	defer upstreamConn.Close()

	if err := outReq.Write(upstreamConn); err != nil {
		return errs.New(errs.KindUpstream, err)
	}

	errc := make(chan error, 2)
	go relay(upstreamConn, clientConn, errc)
	go relay(clientConn, upstreamConn, errc)

	if err := <-errc; err != nil && err != io.EOF {
		if logger != nil {
			logger.Debug("websocket tunnel closed", zap.Error(err))
		}
	}
	return nil
}

func relay(dst io.Writer, src io.Reader, errc chan<- error) {
	_, err := io.Copy(dst, src)
	errc <- err
}
