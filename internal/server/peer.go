// Package server manages individual TCP peers, handling newline-delimited
// framing, read/write pumps and lifecycle control for each connection.
package server

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/Tyrowin/tcpbridge/internal/logging"
)

const (
	peerSendBuffer   = 256
	peerWriteTimeout = 10 * time.Second
)

// Peer is one live TCP connection. It exclusively owns its transport: all
// writes go through the outbound queue drained by writePump.
type Peer struct {
	id           int
	conn         net.Conn
	addr         string
	port         int
	connectedAt  time.Time
	send         chan []byte
	idleTimeout  time.Duration
	maxFrameSize int
	log          *slog.Logger

	mu     sync.Mutex
	closed bool
}

func newPeer(id int, conn net.Conn, connectedAt time.Time, cfg Config) *Peer {
	addr, port := splitRemoteAddr(conn.RemoteAddr())
	return &Peer{
		id:           id,
		conn:         conn,
		addr:         addr,
		port:         port,
		connectedAt:  connectedAt,
		send:         make(chan []byte, peerSendBuffer),
		idleTimeout:  cfg.PeerIdleTimeout,
		maxFrameSize: cfg.MaxFrameSize,
		log:          logging.WithPeer(id, net.JoinHostPort(addr, strconv.Itoa(port))),
	}
}

// ID returns the process-unique id assigned on accept.
func (p *Peer) ID() int { return p.id }

// RemoteAddr returns the peer's IP address.
func (p *Peer) RemoteAddr() string { return p.addr }

// RemotePort returns the peer's source port.
func (p *Peer) RemotePort() int { return p.port }

// ConnectedAt returns the time the connection was accepted.
func (p *Peer) ConnectedAt() time.Time { return p.connectedAt }

// Info projects the peer into its status snapshot entry.
func (p *Peer) Info() ClientInfo {
	return ClientInfo{
		ID:          p.ID(),
		Address:     p.RemoteAddr(),
		Port:        p.RemotePort(),
		ConnectedAt: formatTimestamp(p.ConnectedAt()),
	}
}

// Send queues a frame for delivery. It never blocks: a closed peer yields
// ErrPeerClosed and a peer that cannot keep up yields ErrSendBufferFull.
func (p *Peer) Send(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPeerClosed
	}

	select {
	case p.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close ends the session. Frames already queued are flushed before the
// transport is closed. Close is idempotent.
func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.send)
}

// abort closes the session without waiting for queued frames.
func (p *Peer) abort() {
	p.Close()
	if err := p.conn.Close(); err != nil && !isExpectedCloseError(err) {
		p.log.Warn("Error closing peer connection", "error", err)
	}
}

func (p *Peer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// readPump hands every inbound frame to the relay in arrival order and
// returns the error that ended the stream.
func (p *Peer) readPump(relay *Relay) error {
	reader := newFrameReader(p.conn, p.maxFrameSize)

	for {
		if p.idleTimeout > 0 {
			if err := p.conn.SetReadDeadline(time.Now().Add(p.idleTimeout)); err != nil {
				return err
			}
		}

		frame, err := reader.Next()
		if errors.Is(err, errFrameTooLarge) {
			relay.Discard(p, err)
			continue
		}
		if err != nil {
			return err
		}

		relay.FromPeer(p, frame)
	}
}

func (p *Peer) writePump() {
	failed := false
	for frame := range p.send {
		if failed {
			continue
		}
		if err := p.writeFrame(frame); err != nil {
			if !isExpectedCloseError(err) {
				p.log.Warn("Error writing to peer", "error", err)
			}
			failed = true
			p.abort()
		}
	}

	if err := p.conn.Close(); err != nil && !isExpectedCloseError(err) {
		p.log.Warn("Error closing peer connection in writePump", "error", err)
	}
}

func (p *Peer) writeFrame(frame []byte) error {
	if err := p.conn.SetWriteDeadline(time.Now().Add(peerWriteTimeout)); err != nil {
		return err
	}
	_, err := p.conn.Write(frame)
	return err
}

// frameReader splits a byte stream into newline-delimited frames.
type frameReader struct {
	r *bufio.Reader
}

func newFrameReader(rd io.Reader, maxSize int) *frameReader {
	if maxSize <= 0 {
		maxSize = defaultMaxFrameSize
	}
	return &frameReader{r: bufio.NewReaderSize(rd, maxSize)}
}

// Next returns the next non-blank frame without its line terminator.
// Unterminated data before EOF is returned as a final frame. A line longer
// than the buffer is skipped and reported as errFrameTooLarge.
func (fr *frameReader) Next() ([]byte, error) {
	for {
		line, err := fr.r.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			if err := fr.skipLine(); err != nil {
				return nil, err
			}
			return nil, errFrameTooLarge
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}

		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			return bytes.Clone(trimmed), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (fr *frameReader) skipLine() error {
	for {
		_, err := fr.r.ReadSlice('\n')
		if err == nil {
			return nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

func splitRemoteAddr(addr net.Addr) (string, int) {
	if addr == nil {
		return "", 0
	}
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String(), tcpAddr.Port
	}

	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
