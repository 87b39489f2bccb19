package lib

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSeqIncrement(t *testing.T) {
	testCases := []struct {
		seq, maxSeq uint32
		expected    uint32
	}{
		{seq: 0, maxSeq: 65535, expected: 1},
		{seq: 65534, maxSeq: 65535, expected: 65535},
		{seq: 65535, maxSeq: 65535, expected: 0}, // wrap
		{seq: 7, maxSeq: 7, expected: 0},
		{seq: 4294967295, maxSeq: 4294967295, expected: 0},
	}

	for _, tc := range testCases {
		if result := SeqIncrement(tc.seq, tc.maxSeq); result != tc.expected {
			t.Errorf("SeqIncrement(%d, %d) = %d, expected %d", tc.seq, tc.maxSeq, result, tc.expected)
		}
	}
}

func TestContextErrorTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	err := contextError(ctx, "recv")
	if !isTimeout(err) {
		t.Fatalf("expected a timeout error, got %v", err)
	}

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := contextError(ctx, "recv"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
