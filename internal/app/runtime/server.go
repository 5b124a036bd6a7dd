package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/pglocator/pglocator/internal/logging"
)

// httpServer runs an *http.Server as a lifecycle service.
type httpServer struct {
	srv  *http.Server
	log  *logging.Logger
	errc chan error
	addr net.Addr
}

func newHTTPServer(srv *http.Server, log *logging.Logger) *httpServer {
	return &httpServer{srv: srv, log: log, errc: make(chan error, 1)}
}

func (s *httpServer) Name() string { return "http-server" }

// Start binds the listener before returning so address errors surface here.
func (s *httpServer) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	s.addr = ln.Addr()
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errc <- err
		}
	}()
	return nil
}

func (s *httpServer) Stop(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.WithError(err).Warn("graceful shutdown timed out, closing connections")
		return s.srv.Close()
	}
	return nil
}

// Err reports a server failure after Start.
func (s *httpServer) Err() <-chan error { return s.errc }

// Addr is the bound address, known after Start.
func (s *httpServer) Addr() net.Addr { return s.addr }
