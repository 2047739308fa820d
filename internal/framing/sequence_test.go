package framing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceNumberCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b SequenceNumber
		want int
	}{
		{"Equal", 5, 5, 0},
		{"Less", 3, 9, -1},
		{"Greater", 9, 3, 1},
		{"Wraparound less", 0xfffffffe, 2, -1},
		{"Wraparound greater", 2, 0xfffffffe, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
		})
	}
}

func TestSequenceSetAddCoalesces(t *testing.T) {
	var s SequenceSet
	s.Add(3)
	s.Add(5)
	s.Add(4)
	assert.Equal(t, "{3-5}", s.String())
	assert.Equal(t, 3, s.Size())

	s.Add(1)
	assert.Equal(t, "{1,3-5}", s.String())
	s.Add(2)
	assert.Equal(t, "{1-5}", s.String())

	// re-adding is a no-op
	s.Add(3)
	assert.Equal(t, 5, s.Size())
}

func TestSequenceSetRemoveSplits(t *testing.T) {
	var s SequenceSet
	s.AddRange(1, 5)

	s.Remove(3)
	assert.Equal(t, "{1-2,4-5}", s.String())
	assert.False(t, s.Contains(3))

	s.Remove(1)
	assert.Equal(t, "{2,4-5}", s.String())
	s.Remove(5)
	assert.Equal(t, "{2,4}", s.String())
	s.Remove(2)
	s.Remove(4)
	assert.True(t, s.Empty())

	// removing an absent id is a no-op
	s.Remove(9)
	assert.True(t, s.Empty())
}

func TestSequenceSetFront(t *testing.T) {
	var s SequenceSet
	_, ok := s.Front()
	assert.False(t, ok)

	s.Add(7)
	s.Add(2)
	front, ok := s.Front()
	require.True(t, ok)
	assert.Equal(t, SequenceNumber(2), front)
}

func TestSequenceSetSetOperations(t *testing.T) {
	var a, b SequenceSet
	a.AddRange(1, 10)
	b.AddRange(4, 6)
	b.Add(9)

	a.RemoveSet(&b)
	assert.Equal(t, "{1-3,7-8,10}", a.String())

	a.AddSet(&b)
	assert.Equal(t, "{1-10}", a.String())
}

func TestSequenceSetCopyIsIndependent(t *testing.T) {
	var s SequenceSet
	s.AddRange(1, 3)
	c := s.Copy()
	s.Remove(2)
	assert.Equal(t, "{1-3}", c.String())
	assert.Equal(t, "{1,3}", s.String())
}

func TestSequenceSetEachOrdered(t *testing.T) {
	var s SequenceSet
	s.Add(9)
	s.AddRange(2, 4)
	var got []SequenceNumber
	s.Each(func(id SequenceNumber) { got = append(got, id) })
	assert.Equal(t, []SequenceNumber{2, 3, 4, 9}, got)
}
