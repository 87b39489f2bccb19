package lib

import (
	"github.com/bits-and-blooms/bitset"
)

// seqFilter remembers which DATA ids were delivered, one bit per id in the whole
// sequence space.
type seqFilter struct {
	seen  *bitset.BitSet
	space uint64 // maxSeq + 1
	half  uint64
}

func newSeqFilter(maxSeq uint32) *seqFilter {
	space := uint64(maxSeq) + 1
	return &seqFilter{
		seen:  bitset.New(uint(space)),
		space: space,
		half:  space / 2,
	}
}

// firstSeen marks seq and reports whether it had not been delivered yet. A new id
// also forgets the id half the sequence space ahead: with the window at most half
// the space, the sender cannot have that id in flight now and must get it
// acknowledged before reusing seq.
func (f *seqFilter) firstSeen(seq uint32) bool {
	if f.seen.Test(uint(seq)) {
		return false
	}
	f.seen.Set(uint(seq))
	f.seen.Clear(uint((uint64(seq) + f.half) % f.space))
	return true
}

func (f *seqFilter) reset() {
	f.seen.ClearAll()
}
