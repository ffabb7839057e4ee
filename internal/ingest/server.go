package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/chuanjin/obdbridge/internal/canbus"
	"go.uber.org/zap"
)

// Reply is written back to the client for every non-empty line.
type Reply struct {
	Frame   *canbus.Frame `json:"frame,omitempty"`
	Reading *Reading      `json:"reading,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// TCPServer accepts candump-style lines ("7E8#04410C1AF8") and answers each
// with one JSON object per line.
type TCPServer struct {
	addr       string
	dispatcher *Dispatcher
	log        *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	listener net.Listener
	conns    sync.WaitGroup
}

func NewTCPServer(addr string, d *Dispatcher, log *zap.Logger) *TCPServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &TCPServer{
		addr:       addr,
		dispatcher: d,
		log:        log,
		now:        time.Now,
	}
}

// Addr returns the bound address once the server is listening.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Listen binds the server address. ListenAndServe calls it when needed.
func (s *TCPServer) Listen() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	return nil
}

// ListenAndServe accepts connections until ctx is cancelled, then waits for
// open connections to finish.
func (s *TCPServer) ListenAndServe(ctx context.Context) error {
	if s.Addr() == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		if err := listener.Close(); err != nil {
			s.log.Debug("Failed to close listener", zap.Error(err))
		}
	})
	defer stop()

	s.log.Info("TCP Server listening", zap.String("address", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.conns.Wait()
				return nil
			}
			s.log.Error("Accept error", zap.Error(err))
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *TCPServer) handleConnection(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Error("Failed to close connection", zap.Error(err))
		}
	}()
	s.log.Info("New connection", zap.String("remote_addr", remote))

	enc := json.NewEncoder(conn)
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		reply := s.handleLine(line)
		if err := enc.Encode(reply); err != nil {
			s.log.Warn("Write error", zap.String("remote_addr", remote), zap.Error(err))
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.log.Error("Read error", zap.String("remote_addr", remote), zap.Error(err))
	}
	s.log.Info("Connection closed", zap.String("remote_addr", remote))
}

func (s *TCPServer) handleLine(line string) Reply {
	f, err := canbus.Parse(line, s.now())
	if err != nil {
		s.log.Debug("Unparseable line", zap.String("line", line), zap.Error(err))
		return Reply{Error: err.Error()}
	}

	r, err := s.dispatcher.Ingest(f)
	if err != nil {
		s.log.Debug("Frame not decoded", zap.Stringer("frame", f), zap.Error(err))
		return Reply{Frame: &f, Error: err.Error()}
	}
	s.log.Debug("Decoded frame", zap.String("protocol", r.Protocol), zap.String("name", r.Name), zap.Float64("value", r.Value))
	return Reply{Frame: &f, Reading: &r}
}
