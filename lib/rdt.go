package lib

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/Clouded-Sabre/Pseudo-RDT/config"
	"github.com/google/uuid"
)

var (
	// ErrConfiguration is returned synchronously when an engine cannot be built.
	ErrConfiguration = errors.New("invalid transport configuration")

	// ErrClosed is returned by blocking calls once the engine has shut down.
	ErrClosed = errors.New("transport closed")
)

// RDT is a reliable transport engine bound to one datagram channel. It tracks a
// single peer at a time and runs one sender and one receiver goroutine.
type RDT struct {
	//static
	config        *config.Config
	conn          net.PacketConn
	isServer      bool
	timerInterval time.Duration
	windowSize    int
	maxSeq        uint32

	mu sync.Mutex // guards everything below
	// connection state
	peerAddr              net.Addr
	sessionID             string // carried by INIT; identifies a client session
	nextSeq               uint32
	handshakeSent         bool
	connected             bool
	closing               bool
	closeInitiatedLocally bool
	closeSent             bool
	senderDrained         bool
	hasCloseSeq           bool
	closeSeq              uint32 // id of the peer's CLOSE
	closeAcked            bool
	finished              bool
	sentCount             int // outbound datagrams, for loss simulation

	sendQueue   [][]byte
	outstanding map[uint32]*outstandingSegment
	recvQueue   []received
	seen        *seqFilter // delivered DATA ids
	epoch       uint64     // bumped whenever a new session replaces the old one
	stats       Stats

	// signalling
	sendSignal      chan struct{} // new payloads, window space or closing
	recvSignal      chan struct{} // payload landed in recvQueue
	established     chan struct{} // closed when INIT_ACK arrives
	drained         chan struct{} // closed when the sender drains during a local close
	closeDone       chan struct{} // closed when the last ACK of a local close arrives
	closeSignal     chan struct{} // stops both goroutines
	shutdownOnce    sync.Once
	deadlineWarning sync.Once
	wg              sync.WaitGroup
}

// outstandingSegment is a sent, unacknowledged segment and its retransmission timer.
type outstandingSegment struct {
	frame []byte
	timer *time.Timer
}

type received struct {
	payload []byte
	addr    net.Addr
	epoch   uint64
}

// Stats counts engine events since Open.
type Stats struct {
	Sent           int // first transmissions of INIT, DATA and CLOSE
	Retransmitted  int
	Acked          int
	Delivered      int // DATA payloads appended to the receive queue
	Duplicates     int // DATA segments acknowledged but not re-delivered
	DroppedCorrupt int // malformed or checksum failures
	DroppedLoss    int // simulated outbound losses
}

// Open binds an engine to conn. A client must name its peer.
func Open(conn net.PacketConn, isServer bool, peer net.Addr, cfg *config.Config) (*RDT, error) {
	if conn == nil {
		return nil, fmt.Errorf("%w: datagram channel is nil", ErrConfiguration)
	}
	if !isServer && peer == nil {
		return nil, fmt.Errorf("%w: client role requires a peer address", ErrConfiguration)
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConfiguration, err)
	}

	InitPool(cfg.PayloadPoolSize, cfg.BufferSize, cfg.PoolDebug)

	r := &RDT{
		config:        cfg,
		conn:          conn,
		isServer:      isServer,
		timerInterval: cfg.TimerInterval(),
		windowSize:    cfg.WindowSize,
		maxSeq:        cfg.MaxSequenceNumber,
		peerAddr:      peer,
		outstanding:   make(map[uint32]*outstandingSegment),
		seen:          newSeqFilter(cfg.MaxSequenceNumber),
		sendSignal:    make(chan struct{}, 1),
		recvSignal:    make(chan struct{}, 1),
		established:   make(chan struct{}),
		closeSignal:   make(chan struct{}),
	}
	if !isServer {
		r.sessionID = uuid.New().String()
	}

	r.wg.Add(2)
	go r.handleOutgoingSegments()
	go r.handleIncomingSegments()

	return r, nil
}

// InitiateConnection sends INIT and waits for INIT_ACK or for ctx to end. The INIT
// keeps being retransmitted after a failed wait, so calling again resumes waiting.
func (r *RDT) InitiateConnection(ctx context.Context) bool {
	r.mu.Lock()
	if r.isServer {
		r.mu.Unlock()
		log.Println("InitiateConnection called on a server transport. Ignore it.")
		return false
	}
	if r.connected {
		r.mu.Unlock()
		return true
	}
	if !r.handshakeSent {
		r.handshakeSent = true
		seq := r.nextSeq
		frame := NewSegment(KindInit, seq, []byte(r.sessionID)).Marshal()
		r.trackLocked(seq, frame)
		r.nextSeq = SeqIncrement(seq, r.maxSeq)
		r.writeLocked(frame, r.peerAddr)
	}
	peer := r.peerAddr
	established := r.established
	r.mu.Unlock()

	select {
	case <-established:
		log.Printf("Connection initialized with %s", peer)
		return true
	case <-ctx.Done():
		log.Printf("Connection failed with %s: %v", peer, contextError(ctx, "handshake"))
		return false
	case <-r.closeSignal:
		return false
	}
}

// Send queues payload for addr and returns immediately. It is rejected once closing has begun.
func (r *RDT) Send(payload []byte, addr net.Addr) bool {
	return r.SendBatch([][]byte{payload}, addr)
}

// SendBatch queues payloads in order without interleaving them with other sends.
func (r *RDT) SendBatch(payloads [][]byte, addr net.Addr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closing || r.isShutdown() {
		return false
	}
	if addr != nil {
		r.peerAddr = addr
	}
	r.sendQueue = append(r.sendQueue, payloads...)
	notify(r.sendSignal)
	return true
}

// Recv returns the oldest delivered payload and its sender, waiting until one
// arrives, ctx ends, or the engine shuts down.
func (r *RDT) Recv(ctx context.Context) ([]byte, net.Addr, error) {
	item, err := r.next(ctx)
	if err != nil {
		return nil, nil, err
	}
	return item.payload, item.addr, nil
}

// next pops the oldest delivered payload together with the session it belongs to.
func (r *RDT) next(ctx context.Context) (received, error) {
	for {
		r.mu.Lock()
		if len(r.recvQueue) > 0 {
			item := r.recvQueue[0]
			r.recvQueue[0] = received{}
			r.recvQueue = r.recvQueue[1:]
			if len(r.recvQueue) > 0 {
				notify(r.recvSignal)
			}
			r.mu.Unlock()
			return item, nil
		}
		r.mu.Unlock()

		select {
		case <-r.recvSignal:
		case <-ctx.Done():
			return received{}, contextError(ctx, "rdt recv")
		case <-r.closeSignal:
			r.mu.Lock()
			empty := len(r.recvQueue) == 0
			r.mu.Unlock()
			if empty {
				return received{}, ErrClosed
			}
		}
	}
}

// Close runs the initiator side of the close handshake: wait for the send queue to
// drain, send CLOSE, wait until every outstanding segment is acknowledged, then stop.
func (r *RDT) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.isShutdown() {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.closing && !r.closeInitiatedLocally {
		r.mu.Unlock()
		return fmt.Errorf("%w: peer already requested close", ErrClosed)
	}
	if !r.closeInitiatedLocally {
		r.closing = true
		r.closeInitiatedLocally = true
		r.drained = make(chan struct{})
		r.closeDone = make(chan struct{})
		notify(r.sendSignal)
	}
	drained, closeDone := r.drained, r.closeDone
	r.mu.Unlock()

	select {
	case <-drained:
	case <-ctx.Done():
		return contextError(ctx, "rdt close")
	case <-r.closeSignal:
		return ErrClosed
	}

	r.mu.Lock()
	if !r.closeSent {
		seq := r.nextSeq
		frame := NewSegment(KindClose, seq, nil).Marshal()
		r.trackLocked(seq, frame)
		r.nextSeq = SeqIncrement(seq, r.maxSeq)
		r.closeSent = true
		r.writeLocked(frame, r.peerAddr)
		log.Printf("Close sent to %s with id %d", r.peerAddr, seq)
	}
	r.mu.Unlock()

	select {
	case <-closeDone:
	case <-ctx.Done():
		return contextError(ctx, "rdt close")
	case <-r.closeSignal:
		return ErrClosed
	}

	r.Shutdown()
	log.Println("Connection closed gracefully.")
	return nil
}

// Shutdown stops both goroutines and every timer without a handshake. It does not
// close the datagram channel, which belongs to the caller.
func (r *RDT) Shutdown() {
	r.stopLoops()
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	for seq, entry := range r.outstanding {
		entry.timer.Stop()
		delete(r.outstanding, seq)
	}
}

func (r *RDT) stopLoops() {
	r.shutdownOnce.Do(func() {
		close(r.closeSignal)
	})
}

func (r *RDT) isShutdown() bool {
	select {
	case <-r.closeSignal:
		return true
	default:
		return false
	}
}

// Outstanding returns the number of sent, unacknowledged segments.
func (r *RDT) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outstanding)
}

func (r *RDT) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

// PeerAddr returns the peer currently tracked by the engine.
func (r *RDT) PeerAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peerAddr
}

func (r *RDT) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// State reports where the engine is in its connection state machine.
func (r *RDT) State() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.finished || (r.closeAcked && !r.closeInitiatedLocally):
		return StateClosed
	case r.closing && r.senderDrained:
		return StateClosePending
	case r.closing:
		return StateDraining
	case r.connected:
		return StateConnected
	case r.handshakeSent:
		return StateHandshaking
	}
	return StateDisconnected
}

// handleOutgoingSegments is the sender loop.
func (r *RDT) handleOutgoingSegments() {
	// Decrease WaitGroup counter when the goroutine completes
	defer r.wg.Done()

	for {
		r.mu.Lock()
		r.drainSendQueueLocked()
		r.mu.Unlock()

		select {
		case <-r.closeSignal:
			return
		case <-r.sendSignal:
		}
	}
}

// drainSendQueueLocked transmits queued payloads while the window has room and
// reports "drained" once the queue is empty during close.
func (r *RDT) drainSendQueueLocked() {
	for len(r.sendQueue) > 0 && len(r.outstanding) < r.windowSize {
		payload := r.sendQueue[0]
		r.sendQueue[0] = nil
		r.sendQueue = r.sendQueue[1:]

		seq := r.nextSeq
		frame := NewSegment(KindData, seq, payload).Marshal()
		r.trackLocked(seq, frame)
		r.nextSeq = SeqIncrement(seq, r.maxSeq)
		r.writeLocked(frame, r.peerAddr)
	}

	if len(r.sendQueue) == 0 && r.closing && !r.senderDrained {
		r.senderDrained = true
		if r.drained != nil {
			close(r.drained)
		}
		r.maybeAckCloseLocked()
	}
}

// trackLocked records a first transmission and arms its retransmission timer.
func (r *RDT) trackLocked(seq uint32, frame []byte) {
	if old, ok := r.outstanding[seq]; ok {
		old.timer.Stop()
	}
	entry := &outstandingSegment{frame: frame}
	entry.timer = time.AfterFunc(r.timerInterval, func() { r.resend(seq, entry) })
	r.outstanding[seq] = entry
	r.stats.Sent++
}

// resend fires on timeout. A segment acknowledged in the meantime is no longer in
// the table and the call does nothing.
func (r *RDT) resend(seq uint32, entry *outstandingSegment) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.outstanding[seq] != entry || r.isShutdown() {
		return
	}
	r.stats.Retransmitted++
	if r.config.Debug {
		log.Printf("Timeout: resending segment %d to %s", seq, r.peerAddr)
	}
	r.writeLocked(entry.frame, r.peerAddr)
	entry.timer.Reset(r.timerInterval)
}

// ackLocked removes seq from the outstanding table and cancels its timer.
func (r *RDT) ackLocked(seq uint32) bool {
	entry, ok := r.outstanding[seq]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(r.outstanding, seq)
	r.stats.Acked++
	return true
}

func (r *RDT) writeLocked(frame []byte, addr net.Addr) {
	if addr == nil {
		log.Println("No peer address known. Skip this segment.")
		return
	}

	r.sentCount++
	if n := r.config.PacketLossEveryN; n > 1 && r.sentCount%n == 0 {
		r.stats.DroppedLoss++
		if r.config.Debug {
			log.Println("Datagram", r.sentCount, "is lost")
		}
		return
	}

	if _, err := r.conn.WriteTo(frame, addr); err != nil {
		log.Println("Error writing segment:", err, "Skip this segment.")
	}
}

func (r *RDT) sendControlLocked(kind byte, seq uint32, addr net.Addr) {
	r.writeLocked(NewSegment(kind, seq, nil).Marshal(), addr)
}

// handleIncomingSegments is the receiver loop.
func (r *RDT) handleIncomingSegments() {
	// Decrease WaitGroup counter when the goroutine completes
	defer r.wg.Done()

	for {
		select {
		case <-r.closeSignal:
			return
		default:
			r.processIncomingSegment()
		}
	}
}

func (r *RDT) processIncomingSegment() {
	element, buf := readBuffer(r.config.BufferSize)
	defer releaseBuffer(element)

	// Set a read deadline so the loop notices closeSignal
	if err := r.conn.SetReadDeadline(time.Now().Add(readDeadlineMs * time.Millisecond)); err != nil {
		r.deadlineWarning.Do(func() {
			log.Println("Error setting read deadline:", err, "Shutdown waits for the next datagram.")
		})
	}

	n, addr, err := r.conn.ReadFrom(buf.buf)
	if err != nil {
		if isTimeout(err) {
			return
		}
		if errors.Is(err, net.ErrClosed) {
			log.Println("Datagram channel closed. Stopping transport.")
			r.stopLoops()
			return
		}
		log.Println("RDT.handleIncomingSegments: Error reading:", err)
		return
	}
	buf.length = n

	// Decode copies the payload, so the buffer can go back to the pool
	seg, err := Decode(buf.GetSlice())
	if err != nil {
		r.mu.Lock()
		r.stats.DroppedCorrupt++
		r.mu.Unlock()
		if r.config.Debug {
			log.Printf("Dropping datagram from %s: %v", addr, err)
		}
		return
	}

	r.dispatch(seg, addr)
}

// dispatch routes a verified segment. All state changes happen under r.mu.
func (r *RDT) dispatch(seg *Segment, addr net.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.config.Debug {
		log.Printf("Got segment %s from %s", seg, addr)
	}

	switch seg.Kind {
	case KindInit:
		if r.isServer {
			r.handleInitLocked(seg, addr)
		}
	case KindInitAck:
		if !r.isServer {
			r.handleInitAckLocked(seg)
		}
	case KindAck:
		r.handleAckLocked(seg)
	case KindData:
		r.handleDataLocked(seg, addr)
	case KindClose:
		r.handleCloseLocked(seg, addr)
	}
}

// handleInitLocked accepts a new client session. A repeated INIT of the current
// session only gets its INIT_ACK again; any other INIT displaces the current peer.
func (r *RDT) handleInitLocked(seg *Segment, addr net.Addr) {
	session := string(seg.Payload)
	if r.connected && session == r.sessionID && sameAddr(addr, r.peerAddr) {
		r.sendControlLocked(KindInitAck, seg.Seq, addr)
		return
	}

	if r.connected && !r.closing && !sameAddr(addr, r.peerAddr) {
		log.Printf("Peer %s displaced by new INIT from %s", r.peerAddr, addr)
	}

	r.resetSessionLocked()
	r.connected = true
	r.sessionID = session
	r.peerAddr = addr
	r.sendControlLocked(KindInitAck, seg.Seq, addr)
	log.Printf("Connected from %s", addr)
}

// resetSessionLocked drops everything belonging to the previous peer.
func (r *RDT) resetSessionLocked() {
	for seq, entry := range r.outstanding {
		entry.timer.Stop()
		delete(r.outstanding, seq)
	}
	r.sendQueue = nil
	r.nextSeq = 0
	r.closing = false
	r.closeSent = false
	r.senderDrained = false
	r.hasCloseSeq = false
	r.closeAcked = false
	r.seen.reset()
	r.epoch++
	notify(r.sendSignal)
}

func (r *RDT) handleInitAckLocked(seg *Segment) {
	r.ackLocked(seg.Seq)
	if !r.connected {
		r.connected = true
		close(r.established)
	}
}

func (r *RDT) handleAckLocked(seg *Segment) {
	r.ackLocked(seg.Seq)
	notify(r.sendSignal)

	if r.closeInitiatedLocally && r.closeSent && len(r.outstanding) == 0 && !r.finished {
		r.finished = true
		close(r.closeDone)
		return
	}
	r.maybeAckCloseLocked()
}

// handleDataLocked acknowledges every DATA segment but delivers each id only once.
func (r *RDT) handleDataLocked(seg *Segment, addr net.Addr) {
	r.sendControlLocked(KindAck, seg.Seq, addr)

	if !r.seen.firstSeen(seg.Seq) {
		r.stats.Duplicates++
		return
	}

	r.recvQueue = append(r.recvQueue, received{payload: seg.Payload, addr: addr, epoch: r.epoch})
	r.stats.Delivered++
	notify(r.recvSignal)
}

// handleCloseLocked is the responder side of the close handshake.
func (r *RDT) handleCloseLocked(seg *Segment, addr net.Addr) {
	if r.closeInitiatedLocally {
		return
	}
	if r.peerAddr != nil && !sameAddr(addr, r.peerAddr) {
		log.Printf("Ignoring CLOSE from %s, current peer is %s", addr, r.peerAddr)
		return
	}
	if !r.closing {
		log.Printf("Close requested by %s", addr)
	}
	r.closing = true
	r.hasCloseSeq = true
	r.closeSeq = seg.Seq
	r.closeAcked = false // a repeated CLOSE means our ACK was lost
	if r.peerAddr == nil {
		r.peerAddr = addr
	}
	notify(r.sendSignal)
	r.maybeAckCloseLocked()
}

// maybeAckCloseLocked sends the single ACK for the peer's CLOSE once our sender has
// drained and all our segments are acknowledged.
func (r *RDT) maybeAckCloseLocked() {
	if r.closeInitiatedLocally || !r.closing || !r.senderDrained || !r.hasCloseSeq || r.closeAcked {
		return
	}
	if len(r.outstanding) > 0 {
		return
	}
	r.closeAcked = true
	r.sendControlLocked(KindAck, r.closeSeq, r.peerAddr)
	log.Printf("Close from %s acknowledged", r.peerAddr)
}
