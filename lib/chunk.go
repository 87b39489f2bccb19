package lib

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformedChunk means an RDT+ chunk header could not be parsed.
var ErrMalformedChunk = errors.New("malformed chunk")

// Chunk is one piece of an object, carried as the payload of one DATA segment.
type Chunk struct {
	ObjectID uint32
	Total    int // number of chunks the object was split into
	Index    int
	Data     []byte
}

// SplitObject cuts obj into chunkSize pieces. An object at or under chunkSize,
// including an empty one, is a single chunk.
func SplitObject(objectID uint32, obj []byte, chunkSize int) []Chunk {
	total := 1
	if len(obj) > chunkSize {
		total = (len(obj) + chunkSize - 1) / chunkSize
	}

	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(obj) {
			end = len(obj)
		}
		chunks = append(chunks, Chunk{
			ObjectID: objectID,
			Total:    total,
			Index:    i,
			Data:     obj[start:end],
		})
	}
	return chunks
}

// Interleave merges per-object chunk lists round-robin: round r takes chunk r of
// every object that still has one, in the order the objects are given.
func Interleave(objects [][]Chunk) []Chunk {
	var size, rounds int
	for _, chunks := range objects {
		size += len(chunks)
		if len(chunks) > rounds {
			rounds = len(chunks)
		}
	}

	batch := make([]Chunk, 0, size)
	for r := 0; r < rounds; r++ {
		for _, chunks := range objects {
			if r < len(chunks) {
				batch = append(batch, chunks[r])
			}
		}
	}
	return batch
}

// MarshalChunk frames a chunk as obj_id/segments_num/segment_id lines, a blank line and the data.
func MarshalChunk(c Chunk) []byte {
	frame := make([]byte, 0, 64+len(c.Data))
	frame = append(frame, keyObjectID+":"...)
	frame = strconv.AppendUint(frame, uint64(c.ObjectID), 10)
	frame = append(frame, "\n"+keySegmentsNum+":"...)
	frame = strconv.AppendInt(frame, int64(c.Total), 10)
	frame = append(frame, "\n"+keySegmentID+":"...)
	frame = strconv.AppendInt(frame, int64(c.Index), 10)
	frame = append(frame, headerSeparator...)
	return append(frame, c.Data...)
}

// UnmarshalChunk parses a chunk frame. Data aliases the input.
func UnmarshalChunk(data []byte) (Chunk, error) {
	values, body, err := splitHeader(data, keyObjectID, keySegmentsNum, keySegmentID)
	if err != nil {
		return Chunk{}, fmt.Errorf("%w: %s", ErrMalformedChunk, err)
	}

	objectID, err := strconv.ParseUint(values[0], 10, 32)
	if err != nil {
		return Chunk{}, fmt.Errorf("%w: bad object id %q", ErrMalformedChunk, values[0])
	}
	total, err := strconv.Atoi(values[1])
	if err != nil || total < 1 {
		return Chunk{}, fmt.Errorf("%w: bad chunk count %q", ErrMalformedChunk, values[1])
	}
	index, err := strconv.Atoi(values[2])
	if err != nil || index < 0 || index >= total {
		return Chunk{}, fmt.Errorf("%w: bad chunk index %q of %d", ErrMalformedChunk, values[2], total)
	}

	return Chunk{
		ObjectID: uint32(objectID),
		Total:    total,
		Index:    index,
		Data:     body,
	}, nil
}
