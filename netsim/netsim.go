// Package netsim is an in-memory datagram network for exercising the transport
// over a lossy, corrupting channel without real sockets.
package netsim

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"sync"
	"time"
)

const inboxSize = 4096

// Addr is the address of a Conn on a Network.
type Addr string

func (a Addr) Network() string { return "netsim" }
func (a Addr) String() string  { return string(a) }

type datagram struct {
	data []byte
	from Addr
}

// Network routes datagrams between the Conns listening on it.
type Network struct {
	mu    sync.Mutex
	conns map[string]*Conn
}

func NewNetwork() *Network {
	return &Network{conns: make(map[string]*Conn)}
}

// Listen attaches a new Conn at addr.
func (n *Network) Listen(addr string) (*Conn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.conns[addr]; ok {
		return nil, fmt.Errorf("netsim: address %s already in use", addr)
	}
	c := &Conn{
		network: n,
		addr:    Addr(addr),
		inbox:   make(chan datagram, inboxSize),
		closed:  make(chan struct{}),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	n.conns[addr] = c
	return c, nil
}

func (n *Network) lookup(addr string) *Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.conns[addr]
}

func (n *Network) remove(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.conns, addr)
}

// Pipe returns two connected endpoints on a fresh network.
func Pipe(a, b string) (*Conn, *Conn) {
	n := NewNetwork()
	ca, err := n.Listen(a)
	if err != nil {
		panic(err)
	}
	cb, err := n.Listen(b)
	if err != nil {
		panic(err)
	}
	return ca, cb
}

// Conn is a net.PacketConn on a Network. Loss and corruption are applied to
// outbound datagrams.
type Conn struct {
	network *Network
	addr    Addr
	inbox   chan datagram

	closeOnce sync.Once
	closed    chan struct{}

	mu           sync.Mutex
	readDeadline time.Time
	dropEveryN   int
	dropRate     float64
	corrupt      func([]byte) []byte
	rng          *rand.Rand
	written      int
	dropped      int
}

// SetDropEveryN drops every nth outbound datagram. n <= 1 disables it.
func (c *Conn) SetDropEveryN(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropEveryN = n
}

// SetDropRate drops each outbound datagram with probability p.
func (c *Conn) SetDropRate(p float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropRate = p
}

// SetCorrupt installs a hook that may rewrite each outbound datagram. Returning
// nil drops the datagram.
func (c *Conn) SetCorrupt(fn func([]byte) []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.corrupt = fn
}

// Dropped returns how many outbound datagrams were lost on purpose.
func (c *Conn) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Conn) ReadFrom(p []byte) (int, net.Addr, error) {
	c.mu.Lock()
	deadline := c.readDeadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return 0, nil, c.opError("read", os.ErrDeadlineExceeded)
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case dg := <-c.inbox:
		n := copy(p, dg.data)
		return n, dg.from, nil
	case <-timeout:
		return 0, nil, c.opError("read", os.ErrDeadlineExceeded)
	case <-c.closed:
		return 0, nil, c.opError("read", net.ErrClosed)
	}
}

func (c *Conn) WriteTo(p []byte, addr net.Addr) (int, error) {
	select {
	case <-c.closed:
		return 0, c.opError("write", net.ErrClosed)
	default:
	}
	if addr == nil {
		return 0, c.opError("write", errors.New("missing destination address"))
	}

	data := make([]byte, len(p))
	copy(data, p)

	c.mu.Lock()
	c.written++
	lost := (c.dropEveryN > 1 && c.written%c.dropEveryN == 0) ||
		(c.dropRate > 0 && c.rng.Float64() < c.dropRate)
	if !lost && c.corrupt != nil {
		data = c.corrupt(data)
		lost = data == nil
	}
	if lost {
		c.dropped++
	}
	c.mu.Unlock()

	if lost {
		return len(p), nil
	}

	// Unknown or closed destinations swallow the datagram, as UDP would
	dst := c.network.lookup(addr.String())
	if dst == nil {
		return len(p), nil
	}
	select {
	case <-dst.closed:
	case dst.inbox <- datagram{data: data, from: c.addr}:
	default:
	}
	return len(p), nil
}

func (c *Conn) Close() error {
	err := c.opError("close", net.ErrClosed)
	c.closeOnce.Do(func() {
		close(c.closed)
		c.network.remove(string(c.addr))
		err = nil
	})
	return err
}

func (c *Conn) LocalAddr() net.Addr {
	return c.addr
}

func (c *Conn) SetDeadline(t time.Time) error {
	return c.SetReadDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	return nil
}

// SetWriteDeadline is accepted and ignored; writes never block.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	return nil
}

func (c *Conn) opError(op string, err error) error {
	return &net.OpError{Op: op, Net: "netsim", Addr: c.addr, Err: err}
}
