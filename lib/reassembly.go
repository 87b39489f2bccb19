package lib

import (
	"log"
	"net"

	lru "github.com/hashicorp/golang-lru/v2"
)

type reassemblyRecord struct {
	total  int
	chunks map[int][]byte
}

// Reassembler collects chunks per object id until every index has arrived.
// Ids of finished objects are kept in a bounded LRU so late retransmitted chunks
// cannot start a new record. It is not safe for concurrent use.
type Reassembler struct {
	records   map[uint32]*reassemblyRecord
	completed *lru.Cache[uint32, struct{}]
}

func NewReassembler(completedSize int) (*Reassembler, error) {
	completed, err := lru.New[uint32, struct{}](completedSize)
	if err != nil {
		return nil, err
	}
	return &Reassembler{
		records:   make(map[uint32]*reassemblyRecord),
		completed: completed,
	}, nil
}

// Add stores c and returns the whole object once its last missing chunk arrives.
// A repeated index is ignored.
func (r *Reassembler) Add(c Chunk, addr net.Addr) ([]byte, bool) {
	if r.completed.Contains(c.ObjectID) {
		return nil, false
	}

	rec, ok := r.records[c.ObjectID]
	if !ok {
		rec = &reassemblyRecord{
			total:  c.Total,
			chunks: make(map[int][]byte, c.Total),
		}
		r.records[c.ObjectID] = rec
	}
	if rec.total != c.Total {
		log.Printf("Chunk %d of object %d from %s claims %d chunks, expected %d. Dropping it.", c.Index, c.ObjectID, addr, c.Total, rec.total)
		return nil, false
	}
	if _, dup := rec.chunks[c.Index]; dup {
		return nil, false
	}
	rec.chunks[c.Index] = c.Data

	if len(rec.chunks) < rec.total {
		return nil, false
	}

	var size int
	for _, data := range rec.chunks {
		size += len(data)
	}
	obj := make([]byte, 0, size)
	for i := 0; i < rec.total; i++ {
		obj = append(obj, rec.chunks[i]...)
	}

	delete(r.records, c.ObjectID)
	r.completed.Add(c.ObjectID, struct{}{})
	return obj, true
}

// Received returns how many distinct chunks of an unfinished object have arrived.
func (r *Reassembler) Received(objectID uint32) int {
	if rec, ok := r.records[objectID]; ok {
		return len(rec.chunks)
	}
	return 0
}

// Completed reports whether objectID was reassembled recently enough to still be remembered.
func (r *Reassembler) Completed(objectID uint32) bool {
	return r.completed.Contains(objectID)
}

// Pending returns the number of partially received objects.
func (r *Reassembler) Pending() int {
	return len(r.records)
}

func (r *Reassembler) Reset() {
	r.records = make(map[uint32]*reassemblyRecord)
	r.completed.Purge()
}
