package submit

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"log"
	"net"
	"net/netip"

	"github.com/flagsink/flagsink/internal/flagcodec"
	"github.com/flagsink/flagsink/internal/roster"
	"github.com/google/uuid"
)

const (
	// DefaultMaxLineBytes is the hard per-line limit, newline included.
	// Exceeding it is treated as spam and closes the connection.
	DefaultMaxLineBytes = 200

	// DefaultPendingCap bounds the per-connection result pipeline. A slow
	// reader of responses eventually stalls its own submissions, nothing else.
	DefaultPendingCap = 256

	productionBanner = "flagsink ready. One flag per line.\n"
	debugBanner      = "flagsink ready (debug). Send your team id first, then one flag per line.\n"
)

// ConnConfig carries the shared collaborators of every connection handler.
type ConnConfig struct {
	Roster   *roster.Roster
	Queues   *QueueSet
	Key      []byte
	Encoding flagcodec.Encoding

	MaxLineBytes int // 0 means DefaultMaxLineBytes
	PendingCap   int // 0 means DefaultPendingCap
	Sink         StatsSink
}

func (c ConnConfig) maxLine() int {
	if c.MaxLineBytes > 0 {
		return c.MaxLineBytes
	}
	return DefaultMaxLineBytes
}

func (c ConnConfig) pendingCap() int {
	if c.PendingCap > 0 {
		return c.PendingCap
	}
	return DefaultPendingCap
}

// connHandler serves one accepted submission connection: reads lines,
// decodes flags, routes requests, and streams responses back in strict
// submission order.
type connHandler struct {
	id    string
	conn  net.Conn
	cfg   ConnConfig
	debug bool

	teamID uint32

	// pending carries one result slot per accepted line, in submission
	// order. The writer goroutine is its only consumer. The parentheses
	// matter: without them the type reads as chan<- chan Outcome.
	pending chan (<-chan Outcome)
}

func newConnHandler(conn net.Conn, debug bool, cfg ConnConfig) *connHandler {
	return &connHandler{
		id:      uuid.NewString(),
		conn:    conn,
		cfg:     cfg,
		debug:   debug,
		pending: make(chan (<-chan Outcome), cfg.pendingCap()),
	}
}

// run drives the connection to completion. done is called exactly once,
// after the response stream is fully flushed and the socket closed.
func (h *connHandler) run(ctx context.Context, done func()) {
	h.cfg.Sink.OnConnectionLifecycle(true)

	br := bufio.NewReaderSize(h.conn, h.cfg.maxLine())

	if !h.greet(br) {
		h.conn.Close()
		h.cfg.Sink.OnConnectionLifecycle(false)
		done()
		return
	}

	// The writer owns the socket's write side from here on and closes the
	// connection once every accepted line has its response.
	go h.writeLoop(done)

	h.readLoop(ctx, br)
	close(h.pending)
}

// greet performs the per-mode handshake and resolves the connection's team.
// Returns false when the connection must close without entering streaming.
func (h *connHandler) greet(br *bufio.Reader) bool {
	if h.debug {
		if _, err := h.conn.Write([]byte(debugBanner)); err != nil {
			return false
		}
		line, _, err := h.readLine(br)
		if err != nil {
			return false
		}
		teamID, rerr := h.cfg.Roster.ResolveDebugTeam(string(line))
		if rerr != nil {
			log.Printf("[submit] conn %s: debug team rejected: %v", h.id, rerr)
			h.conn.Write([]byte(OutcomeIllegal.ResponseLine() + "\n")) //nolint:errcheck
			h.cfg.Sink.OnSubmissionOutcome(OutcomeIllegal)
			return false
		}
		h.teamID = teamID
		return true
	}

	addr, ok := remoteAddr(h.conn)
	if ok {
		if teamID, found := h.cfg.Roster.ResolveProductionTeam(addr); found {
			h.teamID = teamID
			_, err := h.conn.Write([]byte(productionBanner))
			return err == nil
		}
	}
	log.Printf("[submit] conn %s: unresolvable sender %v", h.id, h.conn.RemoteAddr())
	h.conn.Write([]byte(OutcomeIllegal.ResponseLine() + "\n")) //nolint:errcheck
	h.cfg.Sink.OnSubmissionOutcome(OutcomeIllegal)
	return false
}

// readLoop consumes submission lines until EOF, cancellation, or a spam
// violation, creating one ordered result slot per line.
func (h *connHandler) readLoop(ctx context.Context, br *bufio.Reader) {
	queue, ok := h.cfg.Queues.Queue(h.teamID)
	if !ok {
		// Roster and queue set are built from the same teams; this is a
		// wiring bug, not client error.
		log.Printf("[submit] conn %s: no queue for team %d", h.id, h.teamID)
		return
	}

	for {
		line, tooLong, err := h.readLine(br)
		if tooLong {
			h.cfg.Sink.OnSubmissionOutcome(OutcomeSpam)
			h.pushSlot(ctx, resolvedSlot(OutcomeSpam))
			return
		}
		if len(line) > 0 {
			if !h.handleLine(ctx, queue, line) {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// handleLine turns one submission line into an ordered result. Returns
// false when the connection should stop reading (shutdown).
func (h *connHandler) handleLine(ctx context.Context, queue *TeamQueue, line []byte) bool {
	flag, err := flagcodec.Parse(line, h.cfg.Key, h.cfg.Encoding)
	if err != nil {
		h.cfg.Sink.OnSubmissionOutcome(OutcomeInvalid)
		return h.pushSlot(ctx, resolvedSlot(OutcomeInvalid))
	}
	if flag.OwnerID == h.teamID {
		h.cfg.Sink.OnSubmissionOutcome(OutcomeOwn)
		return h.pushSlot(ctx, resolvedSlot(OutcomeOwn))
	}

	req := NewRequest(flag, h.teamID)
	if !h.pushSlot(ctx, req.Result()) {
		return false
	}
	if err := queue.Enqueue(ctx, req); err != nil {
		// Shutdown or closed queue: the slot is already ordered, so the
		// client still gets a definitive answer.
		req.Resolve(OutcomeError)
		return false
	}
	return true
}

// pushSlot appends a result slot to the ordered response pipeline.
// Blocks when the pipeline is full (per-connection backpressure).
func (h *connHandler) pushSlot(ctx context.Context, slot <-chan Outcome) bool {
	select {
	case h.pending <- slot:
		return true
	case <-ctx.Done():
		return false
	}
}

// readLine reads one '\n'-terminated line of at most maxLine bytes.
// tooLong is reported when the limit is exceeded before a terminator.
// A non-empty line with err == io.EOF is a valid final line.
func (h *connHandler) readLine(br *bufio.Reader) (line []byte, tooLong bool, err error) {
	raw, err := br.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return nil, true, err
	}
	return bytes.TrimRight(raw, "\r\n"), false, err
}

// writeLoop streams responses in slot order, then closes the socket.
// Slots resolve out of order globally, but each is awaited in sequence, so
// per-connection output order always equals input order.
func (h *connHandler) writeLoop(done func()) {
	bw := bufio.NewWriter(h.conn)
	var werr error
	for slot := range h.pending {
		outcome := <-slot
		if werr != nil {
			continue // client is gone; keep draining so no slot leaks
		}
		if _, err := bw.WriteString(outcome.ResponseLine() + "\n"); err != nil {
			werr = err
			continue
		}
		if err := bw.Flush(); err != nil {
			werr = err
		}
	}
	h.conn.Close()
	h.cfg.Sink.OnConnectionLifecycle(false)
	done()
}

func resolvedSlot(o Outcome) <-chan Outcome {
	ch := make(chan Outcome, 1)
	ch <- o
	return ch
}

func remoteAddr(conn net.Conn) (netip.Addr, bool) {
	tcp, ok := conn.RemoteAddr().(*net.TCPAddr)
	if ok {
		addr, ok := netip.AddrFromSlice(tcp.IP)
		return addr.Unmap(), ok
	}
	// net.Pipe and test transports report non-TCP addresses.
	addrPort, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		return netip.Addr{}, false
	}
	return addrPort.Addr().Unmap(), true
}
