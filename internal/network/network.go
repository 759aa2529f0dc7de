// Package network implements nexachain's peer wire transport: length-
// prefixed TCP framing and the handshake that pairs a freshly dialed
// connection with its peer's address. It is grounded on
// original_source/ccoin/p2p_network.py's SimpleHandshakeProtocol, which
// subclasses Twisted's IntNStringReceiver with structFormat='<I' (a
// little-endian uint32 length prefix) and MAX_LENGTH=3000000; this package
// reproduces that framing directly over net.Conn since Go has no
// equivalent streaming-protocol base class to subclass.
package network

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"nexachain.dev/nexachain/internal/core"
	internalerrors "nexachain.dev/nexachain/internal/errors"
)

// MaxFrameLength is the largest payload (tag + body) a single frame may
// carry, matching p2p_network.py's MAX_LENGTH = 3000000 (3MB).
const MaxFrameLength = 3_000_000

const lengthPrefixSize = 4

// Conn wraps a net.Conn with the length-prefixed frame codec. Concurrent
// WriteFrame calls are serialised by an internal lock; ReadFrame takes no
// lock, so frames are read from one goroutine at a time.
type Conn struct {
	raw     net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex
}

// NewConn wraps an already-established connection.
func NewConn(raw net.Conn) *Conn {
	return &Conn{raw: raw, reader: bufio.NewReader(raw)}
}

// RemoteAddr returns the underlying connection's remote address.
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.raw.Close() }

// WriteFrame writes a single length-prefixed frame: a 4-byte little-endian
// length followed by payload.
func (c *Conn) WriteFrame(payload []byte) error {
	if len(payload) > MaxFrameLength {
		return fmt.Errorf("network: frame of %d bytes exceeds MaxFrameLength %d", len(payload), MaxFrameLength)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	header := make([]byte, lengthPrefixSize)
	binary.LittleEndian.PutUint32(header, uint32(len(payload)))
	if _, err := c.raw.Write(header); err != nil {
		return err
	}
	_, err := c.raw.Write(payload)
	return err
}

// ReadFrame blocks for the next complete frame, rejecting any length
// header above MaxFrameLength before allocating its buffer.
func (c *Conn) ReadFrame() ([]byte, error) {
	header := make([]byte, lengthPrefixSize)
	if _, err := io.ReadFull(c.reader, header); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(header)
	if n > MaxFrameLength {
		return nil, fmt.Errorf("network: declared frame length %d exceeds MaxFrameLength %d", n, MaxFrameLength)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Dial connects to addr and wraps the resulting connection.
func Dial(addr string) (*Conn, error) {
	raw, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewConn(raw), nil
}

// Listener accepts inbound peer connections on a TCP port, handing each
// off to a HandleConn callback. It is the server half of
// SimpleHandshakeProtocol/BasePeer.run.
type Listener struct {
	ln  net.Listener
	log *logrus.Entry
}

// Listen binds addr (":<port>" form) and returns a Listener ready to
// Accept.
func Listen(addr string, log *logrus.Entry) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Listener{ln: ln, log: log.WithField("component", "network")}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Serve accepts connections until the listener is closed, invoking handle
// for each in its own goroutine. It returns nil when the listener is
// closed deliberately (net.ErrClosed), matching a graceful shutdown.
func (l *Listener) Serve(handle func(*Conn)) error {
	for {
		raw, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		conn := NewConn(raw)
		go func() {
			defer conn.Close()
			handle(conn)
		}()
	}
}

// SendHello writes the HEY handshake frame carrying this node's address
// and a fresh request id (§6).
func SendHello(c *Conn, hello *core.Hello) error {
	payload, err := hello.Serialize()
	if err != nil {
		return err
	}
	return c.WriteFrame(payload)
}

// ReadTagged reads one frame and returns its tag alongside the raw payload,
// for dispatch loops deciding which Deserialize* to call.
func ReadTagged(c *Conn) (string, []byte, error) {
	payload, err := c.ReadFrame()
	if err != nil {
		return "", nil, err
	}
	if len(payload) < 3 {
		return "", nil, fmt.Errorf("%w: frame shorter than a tag", internalerrors.ErrUnsupportedMessage)
	}
	return string(payload[:3]), payload, nil
}
