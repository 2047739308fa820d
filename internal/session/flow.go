package session

import (
	"time"
)

// Credit heuristics: the initial grant on attach and the cap on the
// deferred replenishment delay.
const (
	initialCreditCap   = 300
	maxScheduledCredit = 500 * time.Millisecond
	creditWindow       = time.Second
)

// RateFlowControl regulates producer credit so the inbound message rate
// stays at or below a configured messages/second. Two monotonic counters
// track credit granted and messages received; at every step
// granted-received never exceeds the rate. Replenishment inside the
// one-second window of the last grant is deferred to the scheduled credit
// task, which calls ReceivedMessage with msgs == 0.
//
// Callers provide their own locking; the session guards an instance with
// its rate mutex and never holds it across peer proxy calls.
type RateFlowControl struct {
	rate     uint32
	granted  uint32 // total credit granted
	received uint32 // total messages received

	lastGrant       time.Time
	receivedAtGrant uint32
}

// NewRateFlowControl returns a regulator for the given messages/second.
func NewRateFlowControl(rate uint32) *RateFlowControl {
	return &RateFlowControl{rate: rate}
}

// Rate returns the configured messages/second.
func (r *RateFlowControl) Rate() uint32 { return r.rate }

// Outstanding returns the credit the producer currently holds.
func (r *RateFlowControl) Outstanding() uint32 { return r.granted - r.received }

func (r *RateFlowControl) inWindow(now time.Time) bool {
	return !r.lastGrant.IsZero() && now.Sub(r.lastGrant) < creditWindow
}

// FlowStopped reports whether the producer has consumed a full rate's
// worth of credit since the last grant while still inside that grant's
// window. A producer that sends in this state is violating its credit.
func (r *RateFlowControl) FlowStopped(now time.Time) bool {
	return r.received-r.receivedAtGrant >= r.rate && r.inWindow(now)
}

// ReceivedMessage accounts for msgs inbound messages and returns the
// credit to grant back, zero if replenishment must wait. The scheduled
// credit task passes msgs == 0 to collect the deferred grant.
func (r *RateFlowControl) ReceivedMessage(now time.Time, msgs uint32) uint32 {
	r.received += msgs
	if msgs > 0 && r.inWindow(now) {
		return 0
	}
	outstanding := r.granted - r.received
	if outstanding >= r.rate {
		return 0
	}
	return r.rate - outstanding
}

// SentCredit records a grant of credit messages at now.
func (r *RateFlowControl) SentCredit(now time.Time, credit uint32) {
	r.granted += credit
	r.lastGrant = now
	r.receivedAtGrant = r.received
}

// InitialCredit returns the grant to issue when the session becomes ready
// to send: one second's worth, capped.
func (r *RateFlowControl) InitialCredit() uint32 {
	if r.rate < initialCreditCap {
		return r.rate
	}
	return initialCreditCap
}

// ScheduledCreditDelay returns how long to defer a replenishment grant:
// time for 50 messages at the configured rate, capped at 500ms.
func (r *RateFlowControl) ScheduledCreditDelay() time.Duration {
	d := creditWindow * 50 / time.Duration(r.rate)
	if d > maxScheduledCredit {
		return maxScheduledCredit
	}
	return d
}
