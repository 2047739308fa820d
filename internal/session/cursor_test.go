package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amqp-session-core/internal/framing"
)

func TestCursorReceiveBookkeeping(t *testing.T) {
	var c CommandCursor

	assert.Equal(t, framing.SequenceNumber(0), c.NextReceive())
	assert.Equal(t, framing.SequenceNumber(0), c.RecordArrival())
	assert.Equal(t, framing.SequenceNumber(1), c.RecordArrival())
	assert.Equal(t, framing.SequenceNumber(2), c.NextReceive())

	front, ok := c.LowestIncomplete()
	require.True(t, ok)
	assert.Equal(t, framing.SequenceNumber(0), front)

	c.ReceiverCompleted(0)
	front, ok = c.LowestIncomplete()
	require.True(t, ok)
	assert.Equal(t, framing.SequenceNumber(1), front)

	completed := c.TakeCompleted()
	assert.Equal(t, "{0}", completed.String())
	assert.False(t, c.HasCompletedToSend())
}

// The published completed set must equal received minus incomplete, and a
// flushed id never reappears as incomplete.
func TestCursorCompletedNeverReappears(t *testing.T) {
	var c CommandCursor
	for i := 0; i < 5; i++ {
		c.RecordArrival()
	}
	c.ReceiverCompleted(1)
	c.ReceiverCompleted(3)

	flushed := c.TakeCompleted()
	assert.Equal(t, "{1,3}", flushed.String())

	// duplicate async callback: no-op, id does not re-enter either set
	c.ReceiverCompleted(1)
	assert.False(t, c.HasCompletedToSend())
	front, _ := c.LowestIncomplete()
	assert.Equal(t, framing.SequenceNumber(0), front)
}

func TestCursorSendPoint(t *testing.T) {
	var c CommandCursor

	assert.Equal(t, framing.SessionPoint{}, c.CommandPoint())
	require.NoError(t, c.AdvanceSendPoint())
	assert.Equal(t, framing.SessionPoint{Command: 1}, c.CommandPoint())
	assert.True(t, c.SendIncomplete().Contains(0))

	var acked framing.SequenceSet
	acked.Add(0)
	c.SenderCompleted(&acked)
	assert.True(t, c.SendIncomplete().Empty())
}

func TestCursorAdvanceWithOffsetFails(t *testing.T) {
	c := CommandCursor{sendPoint: framing.SessionPoint{Command: 4, Offset: 12}}
	err := c.AdvanceSendPoint()
	require.Error(t, err)
	assert.True(t, framing.IsCode(err, framing.ReplyInternalError))
}
