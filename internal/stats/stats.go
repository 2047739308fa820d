package stats

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// StatsCollector manages application-wide statistics
type StatsCollector struct {
	StartTime         time.Time
	FramesIn          uint64
	FramesOut         uint64
	MessagesReceived  uint64
	MessagesCompleted uint64
	ReconnectAttempts uint64
	Errors            uint64
	LastUpdate        time.Time
}

// NewStatsCollector creates a new stats collector
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{
		StartTime:  time.Now(),
		LastUpdate: time.Now(),
	}
}

// Update updates the stats with new values
func (s *StatsCollector) Update(framesIn, framesOut, received, completed, reconnects, errors uint64) {
	atomic.StoreUint64(&s.FramesIn, framesIn)
	atomic.StoreUint64(&s.FramesOut, framesOut)
	atomic.StoreUint64(&s.MessagesReceived, received)
	atomic.StoreUint64(&s.MessagesCompleted, completed)
	atomic.StoreUint64(&s.ReconnectAttempts, reconnects)
	atomic.StoreUint64(&s.Errors, errors)
	s.LastUpdate = time.Now()
}

// GetStats returns current statistics
func (s *StatsCollector) GetStats() map[string]interface{} {
	uptime := time.Since(s.StartTime)
	return map[string]interface{}{
		"uptime":             uptime.String(),
		"frames_in":          atomic.LoadUint64(&s.FramesIn),
		"frames_out":         atomic.LoadUint64(&s.FramesOut),
		"messages_received":  atomic.LoadUint64(&s.MessagesReceived),
		"messages_completed": atomic.LoadUint64(&s.MessagesCompleted),
		"reconnect_attempts": atomic.LoadUint64(&s.ReconnectAttempts),
		"errors":             atomic.LoadUint64(&s.Errors),
		"last_update":        s.LastUpdate,
	}
}

// GetStatsJSON returns stats as JSON
func (s *StatsCollector) GetStatsJSON() ([]byte, error) {
	return json.Marshal(s.GetStats())
}

// CalculateRate calculates message completion rate
func (s *StatsCollector) CalculateRate() float64 {
	uptime := time.Since(s.StartTime).Seconds()
	if uptime <= 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&s.MessagesCompleted)) / uptime
}
