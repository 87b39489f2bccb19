package lib

// Segment kinds as they appear on the wire.
const (
	KindInit    byte = 'i'
	KindInitAck byte = 's'
	KindAck     byte = 'a'
	KindData    byte = 'd'
	KindClose   byte = 'c'
)

// Engine states, derived from the connection flags.
const (
	StateDisconnected = iota
	StateHandshaking
	StateConnected
	StateDraining
	StateClosePending
	StateClosed
)

// Segment header keys
const (
	keyType     = "type"
	keyID       = "id"
	keyLength   = "length"
	keyChecksum = "checksum"
)

// Chunk header keys
const (
	keyObjectID    = "obj_id"
	keySegmentsNum = "segments_num"
	keySegmentID   = "segment_id"
)

const (
	headerSeparator = "\n\n"
	readDeadlineMs  = 500 // receiver loop poll interval for the close signal
)
