package relay

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
)

// Server is the relay listener: one accept loop handing sockets off to
// per-connection workers, plus the reaper sweep, all coordinated for
// shutdown through an errgroup the way the teacher's network code uses
// a context+WaitGroup pair, generalized here to errgroup's bounded
// group-of-goroutines idiom.
type Server struct {
	listener net.Listener
	registry *Registry
	logger   Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Listen binds addr and prepares the relay server, but does not yet
// accept connections — call Serve for that.
func Listen(addr string, logger Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("relay listen on %s: %w", addr, err)
	}
	if logger == nil {
		logger = DefaultLogger
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	return &Server{
		listener: ln,
		registry: NewRegistry(),
		logger:   logger,
		ctx:      gctx,
		cancel:   cancel,
		group:    group,
	}, nil
}

// Serve runs the accept loop and the reaper sweep until Shutdown is
// called or the listener errors. It blocks; callers typically run it in
// its own goroutine.
func (s *Server) Serve() error {
	s.group.Go(func() error {
		runReaper(s.ctx, s)
		return nil
	})

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return s.group.Wait()
			default:
				log.Printf("❌ relay accept error: %v", err)
				continue
			}
		}
		s.logger.Log(EventRegister, fmt.Sprintf("accepted connection from %s", conn.RemoteAddr()))
		tuneSocket(conn)
		c := s.registry.Add(conn)
		s.group.Go(func() error {
			(&worker{srv: s, conn: c}).run()
			return nil
		})
	}
}

// Shutdown stops accepting, signals the reaper to exit via ctx
// cancellation, closes the listener, and force-expires every tracked
// connection's read deadline so each worker's blocked ReadRelayFrame
// unblocks with a timeout error instead of waiting on a quiet peer
// forever — the same trick worker.handleRegister (forward.go) already
// uses to kick a stale slot when Register returns RegisterReplacedStale.
// It does not itself block
// for worker drain; callers that need a bounded wait should call Serve
// in a goroutine and select on its return with a timeout.
func (s *Server) Shutdown() {
	s.cancel()
	s.listener.Close()
	for _, c := range s.registry.Snapshot() {
		c.raw.SetReadDeadline(time.Now())
	}
}

// Registry exposes the connection table, e.g. for a metrics poller that
// wants ConnectionsActive kept fresh outside the register/cleanup paths.
func (s *Server) Registry() *Registry { return s.registry }
