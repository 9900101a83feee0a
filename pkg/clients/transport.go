package clients

import (
	"net"
	"net/http"
	"time"
)

// DefaultTransport returns the HTTP transport shared by the API clients.
// The dominant traffic is the coordinator's listing poll, a small JSON
// GET against one host every few seconds, so idle connections are kept
// warm well past the poll spacing and the per-host ceiling stays low
// enough that a stalled backend cannot soak up sockets.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		MaxConnsPerHost: 64,

		// An idle keep-alive must outlive the gap between listing polls
		// or every poll pays a fresh handshake
		MaxIdleConnsPerHost: 8,
		MaxIdleConns:        64,
		IdleConnTimeout:     2 * time.Minute,

		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,

		TLSHandshakeTimeout: 10 * time.Second,

		ExpectContinueTimeout: 1 * time.Second,
	}
}
