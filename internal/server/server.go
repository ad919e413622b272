// Package server hosts the TCP listener that speaks the wire protocol to
// clients, dispatching decoded commands into the router. The accept-loop /
// per-connection-goroutine shape, the ants.Pool-bounded connection handler,
// and the tracked-connections-for-shutdown map are all grounded on the
// teacher's internal/ipc/server.go Server; the framing underneath is
// internal/wire instead of the teacher's length-prefixed RequestFrame.
package server

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/docdb/internal/config"
	"github.com/kartikbazzad/docdb/internal/errors"
	"github.com/kartikbazzad/docdb/internal/logger"
	"github.com/kartikbazzad/docdb/internal/metrics"
	"github.com/kartikbazzad/docdb/internal/router"
	"github.com/kartikbazzad/docdb/internal/wire"
)

// commandEnvelope is the JSON payload carried by a wire.TypeCommand message;
// it mirrors router.Request's addressable fields one-to-one.
type commandEnvelope struct {
	Command    router.Command  `json:"command"`
	Collection string          `json:"collection,omitempty"`
	DocID      string          `json:"doc_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	TxID       *uint64         `json:"tx_id,omitempty"`
}

// Server accepts TCP connections and runs the wire protocol against a
// Router until the client disconnects or Stop is called.
type Server struct {
	addr       string
	cfg        *config.Config
	router     *router.Router
	metrics    *metrics.Exporter
	classifier *errors.Classifier
	log        *logger.Logger

	listener net.Listener
	connPool *ants.Pool

	mu          sync.Mutex
	running     bool
	connections map[net.Conn]bool
	connMu      sync.Mutex
	wg          sync.WaitGroup
}

func New(addr string, cfg *config.Config, r *router.Router, exp *metrics.Exporter, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		addr:        addr,
		cfg:         cfg,
		router:      r,
		metrics:     exp,
		classifier:  errors.NewClassifier(),
		log:         log.With(logger.F("component", "server")),
		connections: make(map[net.Conn]bool),
	}
}

func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.running = true

	if s.cfg.Server.MaxConnections > 0 {
		pool, err := ants.NewPool(s.cfg.Server.MaxConnections, ants.WithPanicHandler(func(v interface{}) {
			s.log.Error("connection handler panic: %v", v)
		}))
		if err == nil {
			s.connPool = pool
		}
	}

	s.log.Info("listening on %s", s.addr)
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.running = false
	s.mu.Unlock()

	s.connMu.Lock()
	for conn := range s.connections {
		conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	if s.connPool != nil {
		_ = s.connPool.ReleaseTimeout(s.cfg.Server.ShutdownTimeout)
		s.connPool = nil
	}
	s.log.Info("stopped")
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if !running {
				return
			}
			s.log.Error("accept error: %v", err)
			continue
		}

		s.connMu.Lock()
		s.connections[conn] = true
		s.connMu.Unlock()

		s.wg.Add(1)
		if s.connPool != nil {
			if err := s.connPool.Submit(func() {
				defer s.wg.Done()
				s.handleConnection(conn)
			}); err != nil {
				s.wg.Done()
				conn.Close()
				s.forgetConn(conn)
				s.log.Error("failed to submit connection handler: %v", err)
			}
		} else {
			go func() {
				defer s.wg.Done()
				s.handleConnection(conn)
			}()
		}
	}
}

func (s *Server) forgetConn(conn net.Conn) {
	s.connMu.Lock()
	delete(s.connections, conn)
	s.connMu.Unlock()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		conn.Close()
		s.forgetConn(conn)
	}()

	maxPayload := s.cfg.Server.MaxFrameSize
	if maxPayload <= 0 {
		maxPayload = wire.DefaultMaxPayload
	}

	for {
		msg, err := wire.ReadMessage(conn, maxPayload)
		if err != nil {
			return
		}

		resp := s.handleMessage(msg)
		if err := wire.WriteMessage(conn, resp); err != nil {
			s.log.Error("failed to write response: %v", err)
			return
		}
	}
}

func (s *Server) handleMessage(msg *wire.Message) *wire.Message {
	switch msg.Type {
	case wire.TypePing:
		return &wire.Message{Version: wire.ProtocolVersion, Type: wire.TypePong}
	case wire.TypeCommand, wire.TypeTxn, wire.TypeBulk, wire.TypeDBOp:
		return s.dispatch(msg)
	default:
		return s.errorMessage(errors.Validation("unsupported message type"))
	}
}

func (s *Server) dispatch(msg *wire.Message) *wire.Message {
	var env commandEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return s.errorMessage(errors.Validation("malformed command envelope"))
	}

	start := time.Now()
	resp := s.router.Dispatch(context.Background(), router.Request{
		Command:    env.Command,
		Collection: env.Collection,
		DocID:      env.DocID,
		Payload:    env.Payload,
		TxID:       env.TxID,
	})
	if s.metrics != nil {
		status := "ok"
		if !resp.OK {
			status = "error"
		}
		s.metrics.RecordOperation(string(env.Command), status, time.Since(start))
		if !resp.OK {
			respErr := errors.New(resp.Code, resp.Error)
			s.metrics.RecordError(respErr, s.classifier.Classify(respErr))
		}
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return s.errorMessage(err)
	}
	msgType := wire.TypeResponse
	if !resp.OK {
		msgType = wire.TypeError
	}
	return &wire.Message{Version: wire.ProtocolVersion, Type: msgType, Payload: body}
}

func (s *Server) errorMessage(err error) *wire.Message {
	resp := router.Response{OK: false, Code: errors.CodeOf(err), Error: err.Error()}
	body, _ := json.Marshal(resp)
	return &wire.Message{Version: wire.ProtocolVersion, Type: wire.TypeError, Payload: body}
}
