package submit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// Listener accepts submission connections on one TCP endpoint and hands
// each to a connection handler. Production and debug endpoints differ only
// in the handshake, so both are instances of this type.
type Listener struct {
	name  string // for logs: "production" or "debug"
	addr  string
	debug bool
	cfg   ConnConfig

	ln     net.Listener
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	// readers covers the accept loop and every reader side; writers covers
	// the response streams, which may outlive their readers during shutdown.
	readers sync.WaitGroup
	writers sync.WaitGroup

	stopOnce sync.Once
}

// NewListener creates a listener for addr. debug selects the handshake mode.
func NewListener(name, addr string, debug bool, cfg ConnConfig) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		name:   name,
		addr:   addr,
		debug:  debug,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Start binds the endpoint and begins accepting.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen %s endpoint on %s: %w", l.name, l.addr, err)
	}
	l.ln = ln
	log.Printf("[submit] %s endpoint listening on %s", l.name, ln.Addr())

	l.readers.Add(1)
	go l.acceptLoop()
	return nil
}

// Addr returns the bound address. Valid after Start.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *Listener) acceptLoop() {
	defer l.readers.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-l.ctx.Done():
				return
			default:
			}
			log.Printf("[submit] %s endpoint accept error: %v", l.name, err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		l.track(conn)
		l.readers.Add(1)
		l.writers.Add(1)
		go l.serve(conn)
	}
}

func (l *Listener) serve(conn net.Conn) {
	defer l.readers.Done()
	h := newConnHandler(conn, l.debug, l.cfg)
	h.run(l.ctx, func() {
		l.untrack(conn)
		l.writers.Done()
	})
}

func (l *Listener) track(conn net.Conn) {
	l.mu.Lock()
	l.conns[conn] = struct{}{}
	l.mu.Unlock()
}

func (l *Listener) untrack(conn net.Conn) {
	l.mu.Lock()
	delete(l.conns, conn)
	l.mu.Unlock()
}

// Stop halts accepting, interrupts every reader, and waits for the reader
// side to finish. After Stop returns no new requests can be produced, so
// queues may be closed and swept. Response writers keep running until Wait.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		l.cancel()
		if l.ln != nil {
			l.ln.Close()
		}
		l.mu.Lock()
		for conn := range l.conns {
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.CloseRead() //nolint:errcheck
			}
		}
		l.mu.Unlock()
	})
	l.readers.Wait()
}

// Wait blocks until every connection has flushed its last response and
// closed. Call after the processor's final sweep so all slots resolve.
func (l *Listener) Wait() {
	l.writers.Wait()
}
