package watcher

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/paramd/pkg/events"
	"github.com/cuemby/paramd/pkg/log"
	"github.com/cuemby/paramd/pkg/metrics"
	"github.com/cuemby/paramd/pkg/peer"
	"github.com/cuemby/paramd/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Authorizer decides whether a peer may watch a name
type Authorizer interface {
	Check(cred types.Credentials, name string, mode types.AccessMode) error
}

// CredentialsFunc resolves the credentials of an accepted connection
type CredentialsFunc func(conn net.Conn) (types.Credentials, error)

// ServerConfig configures a watcher Server
type ServerConfig struct {
	SocketPath   string
	Authorizer   Authorizer
	Broker       *events.Broker
	WriteTimeout time.Duration
	// Credentials defaults to SO_PEERCRED
	Credentials CredentialsFunc
}

// Server accepts watcher connections and forwards parameter changes to
// every registered group whose prefix matches
type Server struct {
	config   ServerConfig
	listener net.Listener
	sub      events.Subscriber
	logger   zerolog.Logger

	// latest unforwarded change per name, names in arrival order
	pendingMu sync.Mutex
	pending   map[string]*events.Event
	order     []string
	wake      chan struct{}

	connsMu sync.RWMutex
	conns   map[string]*serverConn

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type serverConn struct {
	id     string
	conn   net.Conn
	cred   types.Credentials
	logger zerolog.Logger

	mu     sync.Mutex
	groups map[uint32]string

	writeMu sync.Mutex
}

// NewServer creates a watcher server
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("socket path is required")
	}
	if cfg.Authorizer == nil || cfg.Broker == nil {
		return nil, fmt.Errorf("authorizer and broker are required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.Credentials == nil {
		cfg.Credentials = peer.Credentials
	}
	return &Server{
		config:  cfg,
		logger:  log.WithComponent("watcher-server"),
		conns:   make(map[string]*serverConn),
		pending: make(map[string]*events.Event),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start listens on the socket and begins forwarding changes
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.config.SocketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	// a stale socket from a previous run blocks Listen
	if err := os.Remove(s.config.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.config.SocketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.SocketPath, err)
	}
	// access is decided per watch, not per connection
	if err := os.Chmod(s.config.SocketPath, 0666); err != nil {
		ln.Close()
		return fmt.Errorf("failed to chmod socket: %w", err)
	}
	s.listener = ln
	s.sub = s.config.Broker.Subscribe(events.WithName("watcher"), events.WithBlocking(), events.WithBuffer(256))

	s.wg.Add(3)
	go s.acceptLoop()
	go s.intakeLoop()
	go s.forwardLoop()

	s.logger.Info().Str("socket", s.config.SocketPath).Msg("watcher server listening")
	return nil
}

// Stop closes the listener and every connection and waits for the server's
// goroutines
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.listener != nil {
			s.listener.Close()
		}
		if s.sub != nil {
			s.config.Broker.Unsubscribe(s.sub)
		}
		s.connsMu.Lock()
		for _, c := range s.conns {
			c.conn.Close()
		}
		s.connsMu.Unlock()
	})
	s.wg.Wait()
}

// Groups returns the number of registered watcher groups
func (s *Server) Groups() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	n := 0
	for _, c := range s.conns {
		c.mu.Lock()
		n += len(c.groups)
		c.mu.Unlock()
	}
	return n
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("failed to accept watcher connection")
			continue
		}

		cred, err := s.config.Credentials(conn)
		if err != nil {
			s.logger.Warn().Err(err).Msg("rejecting watcher connection without credentials")
			conn.Close()
			continue
		}

		c := &serverConn{
			id:     uuid.NewString(),
			conn:   conn,
			cred:   cred,
			groups: make(map[uint32]string),
		}
		c.logger = s.logger.With().Str("conn", c.id).Stringer("cred", cred).Logger()

		s.connsMu.Lock()
		select {
		case <-s.stopCh:
			s.connsMu.Unlock()
			conn.Close()
			return
		default:
		}
		s.conns[c.id] = c
		s.connsMu.Unlock()
		metrics.WatcherConnections.Inc()

		s.wg.Add(1)
		go s.handleConn(c)
	}
}

func (s *Server) handleConn(c *serverConn) {
	defer s.wg.Done()
	defer s.dropConn(c)
	c.logger.Debug().Msg("watcher connected")

	fr := newFrameReader(c.conn)
	for {
		msg, err := fr.Next()
		if err != nil {
			if !isClosed(err) {
				c.logger.Warn().Err(err).Msg("watcher connection failed")
			}
			return
		}

		switch msg.Type {
		case MsgAddWatcher:
			s.addGroup(c, msg.ID, msg.Name)
		case MsgDelWatcher:
			s.delGroup(c, msg.ID)
		default:
			c.logger.Warn().Stringer("type", msg.Type).Msg("unexpected watcher message")
		}
	}
}

func (s *Server) addGroup(c *serverConn, id uint32, prefix string) {
	if err := types.ValidatePrefix(prefix); err != nil {
		c.logger.Warn().Err(err).Str("prefix", prefix).Msg("rejecting watcher group")
		return
	}
	if err := s.config.Authorizer.Check(c.cred, prefixBase(prefix), types.ModeWatch); err != nil {
		c.logger.Warn().Err(err).Str("prefix", prefix).Msg("watch not permitted")
		return
	}

	c.mu.Lock()
	_, exists := c.groups[id]
	c.groups[id] = prefix
	c.mu.Unlock()
	if !exists {
		metrics.WatcherGroups.Inc()
	}
	c.logger.Debug().Uint32("group", id).Str("prefix", prefix).Msg("watcher group added")
}

func (s *Server) delGroup(c *serverConn, id uint32) {
	c.mu.Lock()
	_, exists := c.groups[id]
	delete(c.groups, id)
	c.mu.Unlock()
	if exists {
		metrics.WatcherGroups.Dec()
		c.logger.Debug().Uint32("group", id).Msg("watcher group removed")
	}
}

func (s *Server) dropConn(c *serverConn) {
	c.conn.Close()
	s.connsMu.Lock()
	delete(s.conns, c.id)
	s.connsMu.Unlock()

	c.mu.Lock()
	metrics.WatcherGroups.Sub(float64(len(c.groups)))
	c.groups = map[uint32]string{}
	c.mu.Unlock()
	metrics.WatcherConnections.Dec()
	c.logger.Debug().Msg("watcher disconnected")
}

// intakeLoop drains the broker until Unsubscribe closes the channel. A
// change to a name that is still queued replaces the queued one, so a slow
// watcher costs intermediate values but never the latest.
func (s *Server) intakeLoop() {
	defer s.wg.Done()
	for ev := range s.sub {
		s.pendingMu.Lock()
		if _, queued := s.pending[ev.Name]; queued {
			metrics.NotificationsTotal.WithLabelValues("coalesced").Inc()
		} else {
			s.order = append(s.order, ev.Name)
		}
		s.pending[ev.Name] = ev
		s.pendingMu.Unlock()

		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

func (s *Server) forwardLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.wake:
		case <-s.stopCh:
			return
		}
		for _, ev := range s.takePending() {
			s.notify(ev)
		}
	}
}

func (s *Server) takePending() []*events.Event {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	batch := make([]*events.Event, 0, len(s.order))
	for _, name := range s.order {
		batch = append(batch, s.pending[name])
	}
	clear(s.pending)
	s.order = s.order[:0]
	return batch
}

// notify sends ev to every group whose prefix matches and whose peer may
// watch the parameter
func (s *Server) notify(ev *events.Event) {
	s.connsMu.RLock()
	conns := make([]*serverConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.RUnlock()

	for _, c := range conns {
		c.mu.Lock()
		var ids []uint32
		for id, prefix := range c.groups {
			if types.MatchPrefix(prefix, ev.Name) {
				ids = append(ids, id)
			}
		}
		c.mu.Unlock()
		if len(ids) == 0 {
			continue
		}

		if err := s.config.Authorizer.Check(c.cred, ev.Name, types.ModeWatch); err != nil {
			metrics.NotificationsTotal.WithLabelValues("forbidden").Inc()
			continue
		}
		for _, id := range ids {
			if err := s.send(c, Message{Type: MsgNotifyParam, ID: id, Commit: ev.CommitID, Name: ev.Name, Value: ev.Value}); err != nil {
				metrics.NotificationsTotal.WithLabelValues("error").Inc()
				c.logger.Warn().Err(err).Str("param", ev.Name).Msg("failed to notify watcher")
				// the reader goroutine sees the close and drops the connection
				c.conn.Close()
				break
			}
			metrics.NotificationsTotal.WithLabelValues("ok").Inc()
		}
	}
}

func (s *Server) send(c *serverConn, m Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return WriteMessage(c.conn, m)
}

// prefixBase strips the wildcard so the prefix can be checked like a name
func prefixBase(prefix string) string {
	base := strings.TrimSuffix(prefix, "*")
	return strings.TrimSuffix(base, ".")
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.EOF)
}
