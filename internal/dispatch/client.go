package dispatch

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/net/proxy"
)

// NewUpstreamClient builds the pair of *http.Client used for upstream
// calls, optionally routed through an egress SOCKS5 proxy (spec §6.2
// Global.Proxy), grounded on the teacher's proxy-aware transport
// construction in cmd/server/main.go. Both clients share one underlying
// *http.Transport (and its connection pool); only their Timeout differs:
//
//   - the non-streaming client bounds the entire round trip (including
//     reading the body) at timeout, per spec §5's "configurable
//     per-operation upstream timeout (default ≈120s for non-streaming)".
//   - the streaming client carries no Timeout at all — http.Client.Timeout
//     would otherwise kill any SSE connection still open past that
//     deadline, contradicting §5's "unbounded for streaming". Streaming
//     calls are bounded only by the request's context being cancelled
//     (downstream disconnect) or the upstream closing the connection.
func NewUpstreamClient(proxyURL string, timeout time.Duration) (client, streamClient *http.Client, err error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if proxyURL != "" {
		u, uerr := url.Parse(proxyURL)
		if uerr != nil {
			return nil, nil, fmt.Errorf("invalid proxy url: %w", uerr)
		}
		dialer, derr := proxy.FromURL(u, proxy.Direct)
		if derr != nil {
			return nil, nil, fmt.Errorf("building proxy dialer: %w", derr)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	}
	client = &http.Client{Transport: transport, Timeout: timeout}
	streamClient = &http.Client{Transport: transport}
	return client, streamClient, nil
}

// decodeBody transparently decompresses an upstream response body
// according to its Content-Encoding, since some providers (notably
// Vertex through certain proxies) return zstd- or gzip-encoded JSON even
// for non-streaming calls (spec §5 "upstream decompression").
func decodeBody(encoding string, r io.Reader) (io.Reader, error) {
	switch encoding {
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case "gzip":
		return gzip.NewReader(r)
	default:
		return r, nil
	}
}
