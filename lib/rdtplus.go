package lib

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/Clouded-Sabre/Pseudo-RDT/config"
)

// ErrHandshakeFailed is returned when a client never sees INIT_ACK within the handshake timeout.
var ErrHandshakeFailed = errors.New("handshake failed")

// RDTPlus sends and receives whole objects of any size over an RDT engine by
// splitting them into chunks and reassembling them on arrival.
type RDTPlus struct {
	rdt       *RDT
	chunkSize int

	mu           sync.Mutex
	nextObjectID uint32
	reassembler  *Reassembler
	epoch        uint64 // engine session the object state belongs to
}

// NewRDTPlus opens a transport on conn. The client role connects to serverAddr
// before returning.
func NewRDTPlus(conn net.PacketConn, isServer bool, serverAddr net.Addr, cfg *config.Config) (*RDTPlus, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	rdt, err := Open(conn, isServer, serverAddr, cfg)
	if err != nil {
		return nil, err
	}

	reassembler, err := NewReassembler(cfg.CompletedCacheSize)
	if err != nil {
		rdt.Shutdown()
		return nil, fmt.Errorf("%w: %s", ErrConfiguration, err)
	}

	p := &RDTPlus{
		rdt:         rdt,
		chunkSize:   cfg.ChunkSize,
		reassembler: reassembler,
	}

	if !isServer {
		ctx := context.Background()
		if timeout := cfg.HandshakeTimeout(); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if !rdt.InitiateConnection(ctx) {
			rdt.Shutdown()
			return nil, fmt.Errorf("%w: no answer from %s", ErrHandshakeFailed, serverAddr)
		}
	}

	return p, nil
}

// Send assigns each non-nil object the next object id and queues all of their
// chunks, interleaved round-robin, as one batch.
func (p *RDTPlus) Send(objects [][]byte, addr net.Addr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	firstID := p.nextObjectID
	perObject := make([][]Chunk, 0, len(objects))
	for _, obj := range objects {
		if obj == nil {
			continue
		}
		perObject = append(perObject, SplitObject(p.nextObjectID, obj, p.chunkSize))
		p.nextObjectID++
	}

	chunks := Interleave(perObject)
	batch := make([][]byte, len(chunks))
	for i, c := range chunks {
		batch[i] = MarshalChunk(c)
	}

	if !p.rdt.SendBatch(batch, addr) {
		p.nextObjectID = firstID
		return false
	}
	return true
}

// SendValues encodes each value with the object value codec and sends the results.
func (p *RDTPlus) SendValues(values []any, addr net.Addr) error {
	objects := make([][]byte, len(values))
	for i, v := range values {
		data, err := EncodeValue(v)
		if err != nil {
			return err
		}
		objects[i] = data
	}
	if !p.Send(objects, addr) {
		return fmt.Errorf("%w: send rejected while closing", ErrClosed)
	}
	return nil
}

// Recv returns the next fully reassembled object and its sender. Object ids and
// partial objects are forgotten as soon as a payload from a new peer session arrives.
func (p *RDTPlus) Recv(ctx context.Context) ([]byte, net.Addr, error) {
	for {
		item, err := p.rdt.next(ctx)
		if err != nil {
			return nil, nil, err
		}

		chunk, err := UnmarshalChunk(item.payload)
		if err != nil {
			log.Printf("Dropping chunk from %s: %v", item.addr, err)
			continue
		}

		p.mu.Lock()
		if item.epoch != p.epoch {
			p.epoch = item.epoch
			p.resetLocked()
		}
		obj, done := p.reassembler.Add(chunk, item.addr)
		p.mu.Unlock()
		if done {
			return obj, item.addr, nil
		}
	}
}

// RecvValue receives the next object and decodes it with the object value codec.
func (p *RDTPlus) RecvValue(ctx context.Context) (any, net.Addr, error) {
	obj, addr, err := p.Recv(ctx)
	if err != nil {
		return nil, nil, err
	}
	v, err := DecodeValue(obj)
	if err != nil {
		return nil, addr, err
	}
	return v, addr, nil
}

// Close runs the transport close handshake.
func (p *RDTPlus) Close(ctx context.Context) error {
	return p.rdt.Close(ctx)
}

func (p *RDTPlus) Shutdown() {
	p.rdt.Shutdown()
}

// ResetServerState restarts object ids at zero and forgets all reassembly state.
// A server calls it once a client session is over.
func (p *RDTPlus) ResetServerState() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

func (p *RDTPlus) resetLocked() {
	p.nextObjectID = 0
	p.reassembler.Reset()
}

// Transport exposes the underlying engine.
func (p *RDTPlus) Transport() *RDT {
	return p.rdt
}
