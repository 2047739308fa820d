// Package framing holds the frame model and sequence arithmetic shared by
// the broker session core and the client connection engine. The wire codec
// itself lives elsewhere; these are the in-memory shapes the session state
// machine operates on.
package framing

import (
	"fmt"
	"strings"
)

// SequenceNumber is a command id: an unsigned 32-bit serial number that
// wraps around. Comparisons use serial arithmetic so ids remain ordered
// across the wrap point.
type SequenceNumber uint32

// Compare returns -1, 0 or 1 using serial-number ordering.
func (s SequenceNumber) Compare(other SequenceNumber) int {
	if s == other {
		return 0
	}
	if int32(s-other) < 0 {
		return -1
	}
	return 1
}

// LessThan reports whether s precedes other in serial order.
func (s SequenceNumber) LessThan(other SequenceNumber) bool {
	return s.Compare(other) < 0
}

// SessionPoint marks a position in a directional command stream: the
// command id and the byte offset within that command. Offset is non-zero
// only part way through sending a command's frames.
type SessionPoint struct {
	Command SequenceNumber
	Offset  uint32
}

func (p SessionPoint) String() string {
	return fmt.Sprintf("(%d+%d)", p.Command, p.Offset)
}

// sequenceRange is a closed run [first, last] of consecutive ids.
type sequenceRange struct {
	first, last SequenceNumber
}

func (r sequenceRange) contains(id SequenceNumber) bool {
	return !id.LessThan(r.first) && !r.last.LessThan(id)
}

// SequenceSet is a set of command ids stored as ordered runs. The zero
// value is an empty set ready for use.
type SequenceSet struct {
	ranges []sequenceRange
}

// Empty reports whether the set holds no ids.
func (s *SequenceSet) Empty() bool { return len(s.ranges) == 0 }

// Size returns the number of ids in the set.
func (s *SequenceSet) Size() int {
	n := 0
	for _, r := range s.ranges {
		n += int(uint32(r.last-r.first)) + 1
	}
	return n
}

// Contains reports whether id is in the set.
func (s *SequenceSet) Contains(id SequenceNumber) bool {
	for _, r := range s.ranges {
		if r.contains(id) {
			return true
		}
	}
	return false
}

// Front returns the smallest id in the set. The second return is false
// when the set is empty.
func (s *SequenceSet) Front() (SequenceNumber, bool) {
	if len(s.ranges) == 0 {
		return 0, false
	}
	return s.ranges[0].first, true
}

// Add inserts id, coalescing with adjacent runs.
func (s *SequenceSet) Add(id SequenceNumber) {
	for i, r := range s.ranges {
		if r.contains(id) {
			return
		}
		if id+1 == r.first {
			s.ranges[i].first = id
			s.mergeAt(i)
			return
		}
		if id == r.last+1 {
			s.ranges[i].last = id
			s.mergeAt(i)
			return
		}
		if id.LessThan(r.first) {
			s.ranges = append(s.ranges, sequenceRange{})
			copy(s.ranges[i+1:], s.ranges[i:])
			s.ranges[i] = sequenceRange{id, id}
			return
		}
	}
	s.ranges = append(s.ranges, sequenceRange{id, id})
}

// AddRange inserts every id in [first, last].
func (s *SequenceSet) AddRange(first, last SequenceNumber) {
	for id := first; ; id++ {
		s.Add(id)
		if id == last {
			return
		}
	}
}

// AddSet inserts every id of other.
func (s *SequenceSet) AddSet(other *SequenceSet) {
	for _, r := range other.ranges {
		s.AddRange(r.first, r.last)
	}
}

func (s *SequenceSet) mergeAt(i int) {
	if i+1 < len(s.ranges) && s.ranges[i].last+1 == s.ranges[i+1].first {
		s.ranges[i].last = s.ranges[i+1].last
		s.ranges = append(s.ranges[:i+1], s.ranges[i+2:]...)
	}
	if i > 0 && s.ranges[i-1].last+1 == s.ranges[i].first {
		s.ranges[i-1].last = s.ranges[i].last
		s.ranges = append(s.ranges[:i], s.ranges[i+1:]...)
	}
}

// Remove deletes id if present, splitting its run when needed.
func (s *SequenceSet) Remove(id SequenceNumber) {
	for i, r := range s.ranges {
		if !r.contains(id) {
			continue
		}
		switch {
		case r.first == r.last:
			s.ranges = append(s.ranges[:i], s.ranges[i+1:]...)
		case id == r.first:
			s.ranges[i].first = id + 1
		case id == r.last:
			s.ranges[i].last = id - 1
		default:
			s.ranges = append(s.ranges, sequenceRange{})
			copy(s.ranges[i+2:], s.ranges[i+1:])
			s.ranges[i] = sequenceRange{r.first, id - 1}
			s.ranges[i+1] = sequenceRange{id + 1, r.last}
		}
		return
	}
}

// RemoveSet deletes every id of other that is present.
func (s *SequenceSet) RemoveSet(other *SequenceSet) {
	for _, r := range other.ranges {
		for id := r.first; ; id++ {
			s.Remove(id)
			if id == r.last {
				break
			}
		}
	}
}

// Clear empties the set.
func (s *SequenceSet) Clear() { s.ranges = s.ranges[:0] }

// Copy returns an independent copy of the set.
func (s *SequenceSet) Copy() *SequenceSet {
	c := &SequenceSet{ranges: make([]sequenceRange, len(s.ranges))}
	copy(c.ranges, s.ranges)
	return c
}

// Each calls fn for every id in ascending order.
func (s *SequenceSet) Each(fn func(SequenceNumber)) {
	for _, r := range s.ranges {
		for id := r.first; ; id++ {
			fn(id)
			if id == r.last {
				break
			}
		}
	}
}

func (s *SequenceSet) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, r := range s.ranges {
		if i > 0 {
			b.WriteByte(',')
		}
		if r.first == r.last {
			fmt.Fprintf(&b, "%d", r.first)
		} else {
			fmt.Fprintf(&b, "%d-%d", r.first, r.last)
		}
	}
	b.WriteByte('}')
	return b.String()
}
