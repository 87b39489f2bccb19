package lib

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeqFilterRemembersWholeSpace(t *testing.T) {
	f := newSeqFilter(65535)

	assert.True(t, f.firstSeen(1))
	for seq := uint32(2); seq < 20000; seq++ {
		assert.True(t, f.firstSeen(seq))
	}
	assert.False(t, f.firstSeen(1))
	assert.False(t, f.firstSeen(19999))
}

func TestSeqFilterForgetsAcrossWrap(t *testing.T) {
	f := newSeqFilter(7)

	assert.True(t, f.firstSeen(0))
	assert.False(t, f.firstSeen(0))

	// ids 1..4 arrive; 4 is half the space past 0
	for seq := uint32(1); seq <= 4; seq++ {
		assert.True(t, f.firstSeen(seq))
	}
	assert.False(t, f.firstSeen(1))

	// a full lap later every id is accepted again
	for seq := uint32(5); seq <= 7; seq++ {
		assert.True(t, f.firstSeen(seq))
	}
	for seq := uint32(0); seq <= 7; seq++ {
		assert.True(t, f.firstSeen(seq), "seq %d", seq)
	}
}

func TestSeqFilterReset(t *testing.T) {
	f := newSeqFilter(255)
	assert.True(t, f.firstSeen(9))
	f.reset()
	assert.True(t, f.firstSeen(9))
}
