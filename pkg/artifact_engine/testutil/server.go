package testutil

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// NewTestServer serves handler on a loopback port for the duration of the
// test. Environments that forbid binding sockets skip instead of failing.
func NewTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skip: cannot listen in sandbox: %v", err)
	}

	srv := &httptest.Server{
		Listener: ln,
		Config:   &http.Server{Handler: handler},
	}
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}
