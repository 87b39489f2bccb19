package lib

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrMalformedSegment means the header could not be parsed.
	ErrMalformedSegment = errors.New("malformed segment")

	// ErrChecksumMismatch means the header parsed but the digest did not match.
	ErrChecksumMismatch = errors.New("segment checksum mismatch")
)

// Segment is the unit exchanged over the datagram channel.
type Segment struct {
	Kind     byte
	Seq      uint32
	Length   int
	Checksum string
	Payload  []byte
}

// NewSegment builds a segment and stamps its checksum.
func NewSegment(kind byte, seq uint32, payload []byte) *Segment {
	return &Segment{
		Kind:     kind,
		Seq:      seq,
		Length:   len(payload),
		Checksum: Checksum(kind, seq, payload),
		Payload:  payload,
	}
}

// Checksum is the hex MD5 of the header rendered with a zero checksum, followed by the payload.
func Checksum(kind byte, seq uint32, payload []byte) string {
	h := md5.New()
	h.Write(appendSegmentHeader(nil, kind, seq, len(payload), "0"))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func appendSegmentHeader(dst []byte, kind byte, seq uint32, length int, checksum string) []byte {
	dst = append(dst, keyType+":"...)
	dst = append(dst, kind)
	dst = append(dst, "\n"+keyID+":"...)
	dst = strconv.AppendUint(dst, uint64(seq), 10)
	dst = append(dst, "\n"+keyLength+":"...)
	dst = strconv.AppendInt(dst, int64(length), 10)
	dst = append(dst, "\n"+keyChecksum+":"...)
	dst = append(dst, checksum...)
	return append(dst, headerSeparator...)
}

// Marshal renders the segment as type/id/length/checksum lines, a blank line and the payload.
func (s *Segment) Marshal() []byte {
	frame := make([]byte, 0, 64+len(s.Checksum)+len(s.Payload))
	frame = appendSegmentHeader(frame, s.Kind, s.Seq, len(s.Payload), s.Checksum)
	return append(frame, s.Payload...)
}

// Verify recomputes the digest over the received fields.
func (s *Segment) Verify() error {
	if s.Length != len(s.Payload) || Checksum(s.Kind, s.Seq, s.Payload) != s.Checksum {
		return ErrChecksumMismatch
	}
	return nil
}

func (s *Segment) String() string {
	return fmt.Sprintf("%c#%d(%d bytes)", s.Kind, s.Seq, s.Length)
}

// Unmarshal parses a datagram into a Segment without checking its digest.
// The payload is copied, so data may be reused by the caller.
func Unmarshal(data []byte) (*Segment, error) {
	values, body, err := splitHeader(data, keyType, keyID, keyLength, keyChecksum)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedSegment, err)
	}

	if len(values[0]) != 1 || !validKind(values[0][0]) {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedSegment, values[0])
	}
	seq, err := strconv.ParseUint(values[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: bad id %q", ErrMalformedSegment, values[1])
	}
	length, err := strconv.Atoi(values[2])
	if err != nil || length < 0 {
		return nil, fmt.Errorf("%w: bad length %q", ErrMalformedSegment, values[2])
	}
	if len(body) != length {
		return nil, fmt.Errorf("%w: payload is %d bytes, header says %d", ErrMalformedSegment, len(body), length)
	}

	seg := &Segment{
		Kind:     values[0][0],
		Seq:      uint32(seq),
		Length:   length,
		Checksum: values[3],
	}
	if length > 0 {
		seg.Payload = make([]byte, length)
		copy(seg.Payload, body)
	}
	return seg, nil
}

// Decode parses and verifies a datagram.
func Decode(data []byte) (*Segment, error) {
	seg, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if err := seg.Verify(); err != nil {
		return nil, err
	}
	return seg, nil
}

func validKind(k byte) bool {
	switch k {
	case KindInit, KindInitAck, KindAck, KindData, KindClose:
		return true
	}
	return false
}

// splitHeader parses "key:value" lines in the given order up to the blank-line
// separator and returns the values plus everything after the separator.
func splitHeader(data []byte, keys ...string) ([]string, []byte, error) {
	idx := bytes.Index(data, []byte(headerSeparator))
	if idx < 0 {
		return nil, nil, errors.New("missing header separator")
	}

	lines := bytes.Split(data[:idx], []byte("\n"))
	if len(lines) != len(keys) {
		return nil, nil, fmt.Errorf("expected %d header lines, got %d", len(keys), len(lines))
	}

	values := make([]string, len(keys))
	for i, line := range lines {
		key, value, found := bytes.Cut(line, []byte(":"))
		if !found || string(key) != keys[i] {
			return nil, nil, fmt.Errorf("expected header %q, got %q", keys[i], line)
		}
		values[i] = string(value)
	}
	return values, data[idx+len(headerSeparator):], nil
}
