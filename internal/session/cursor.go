package session

import (
	"amqp-session-core/internal/framing"
)

// CommandCursor tracks sender and receiver command sequence numbers for
// one session: the next command id per direction, the send command point,
// the set of received-but-incomplete ids and the completions owed to the
// peer. It survives detach so a re-attached session resumes where it
// left off.
type CommandCursor struct {
	sendPoint      framing.SessionPoint
	sendIncomplete framing.SequenceSet // sent, not yet acknowledged complete

	recvNext        framing.SequenceNumber
	recvIncomplete  framing.SequenceSet // received, not yet completed locally
	completedToSend framing.SequenceSet // completed locally, not yet flushed
}

// NextReceive returns the id the next (or current) inbound command will
// carry, without advancing.
func (c *CommandCursor) NextReceive() framing.SequenceNumber {
	return c.recvNext
}

// RecordArrival marks the current inbound command as fully received and
// advances the receive id. The command stays incomplete until
// ReceiverCompleted.
func (c *CommandCursor) RecordArrival() framing.SequenceNumber {
	id := c.recvNext
	c.recvIncomplete.Add(id)
	c.recvNext++
	return id
}

// ReceiverCompleted records local completion of a received command.
// Completing an id that is not outstanding is a no-op so duplicate
// asynchronous callbacks are tolerated.
func (c *CommandCursor) ReceiverCompleted(id framing.SequenceNumber) {
	if !c.recvIncomplete.Contains(id) {
		return
	}
	c.recvIncomplete.Remove(id)
	c.completedToSend.Add(id)
}

// LowestIncomplete returns the smallest received id not yet completed.
func (c *CommandCursor) LowestIncomplete() (framing.SequenceNumber, bool) {
	return c.recvIncomplete.Front()
}

// TakeCompleted removes and returns the completions owed to the peer.
func (c *CommandCursor) TakeCompleted() *framing.SequenceSet {
	out := c.completedToSend.Copy()
	c.completedToSend.Clear()
	return out
}

// HasCompletedToSend reports whether any completions are pending flush.
func (c *CommandCursor) HasCompletedToSend() bool {
	return !c.completedToSend.Empty()
}

// SenderCompleted drops ids the peer has acknowledged as complete from the
// outstanding-sent set.
func (c *CommandCursor) SenderCompleted(commands *framing.SequenceSet) {
	c.sendIncomplete.RemoveSet(commands)
}

// SendIncomplete exposes the outstanding-sent set for inspection.
func (c *CommandCursor) SendIncomplete() *framing.SequenceSet {
	return &c.sendIncomplete
}

// CommandPoint returns the current send position.
func (c *CommandCursor) CommandPoint() framing.SessionPoint {
	return c.sendPoint
}

// AdvanceSendPoint moves the send point past one fully-delivered command.
// The byte offset must be zero: a delivery may not begin while a previous
// command is part-sent.
func (c *CommandCursor) AdvanceSendPoint() error {
	if c.sendPoint.Offset != 0 {
		return framing.InvariantViolation(
			"send point %s has non-zero offset at delivery", c.sendPoint)
	}
	c.sendIncomplete.Add(c.sendPoint.Command)
	c.sendPoint.Command++
	return nil
}
