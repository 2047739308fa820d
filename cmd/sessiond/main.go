package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"amqp-session-core/config"
	"amqp-session-core/internal/framing"
	"amqp-session-core/internal/logger"
	"amqp-session-core/internal/metrics"
	"amqp-session-core/internal/session"
	"amqp-session-core/internal/stats"
	"amqp-session-core/internal/timer"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to config file")
	maxRateOverride := flag.Int("max-rate", 0, "override per-session max message rate (0 = use config)")
	metricsAddrOverride := flag.String("metrics-addr", "", "override metrics server address (empty = use config)")
	metricsPathOverride := flag.String("metrics-path", "", "override metrics endpoint path (empty = use config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.ApplyOverrides(*maxRateOverride, *metricsAddrOverride, *metricsPathOverride)

	logger, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	// Setup metrics if enabled
	var metricsService *metrics.Metrics
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metricsService, err = metrics.NewMetrics(reg)
		if err != nil {
			logger.Fatal("failed to create metrics service", "error", err)
		}

		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:    cfg.Metrics.Address,
			Handler: mux,
		}
		go func() {
			logger.Info("starting metrics server", "address", cfg.Metrics.Address, "path", cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	collector := stats.NewStatsCollector()
	runner := session.NewIORunner()
	tmr := &timer.Timer{}

	sink := &countingSink{}
	handler := session.NewSessionHandler(session.HandlerConfig{
		Channel:      0,
		ConnectionID: "sessiond",
		MaxFrameSize: cfg.Session.MaxFrameSize,
	}, sink, &loggingProxy{log: logger}, nil, logger)

	core, err := session.NewSessionCore(
		session.NewSessionId("sessiond"),
		session.Config{MaxRate: cfg.Session.MaxRate},
		handler,
		&passthroughSemantics{log: logger},
		nil, nil, tmr, runner, logger, metricsService,
	)
	if err != nil {
		logger.Fatal("failed to create session", "error", err)
	}
	core.ReadyToSend()
	logger.Info("session ready", "session", core.Id().String(), "maxRate", cfg.Session.MaxRate)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			collector.Update(0, sink.frames.Load(), 0, 0, 0, 0)
			if data, err := collector.GetStatsJSON(); err == nil {
				logger.Info("runtime stats", "stats", string(data))
			}
		case sig := <-sigChan:
			logger.Info("shutting down", "signal", sig.String())
			core.Close()
			runner.Stop()
			if metricsServer != nil {
				metricsServer.Close()
			}
			return
		}
	}
}

// countingSink counts outbound frames; the daemon has no live transport.
type countingSink struct {
	frames atomic.Uint64
}

func (s *countingSink) Out(*framing.Frame) error {
	s.frames.Add(1)
	return nil
}

// loggingProxy logs peer-bound commands at debug level.
type loggingProxy struct {
	log *logger.Logger
}

func (p *loggingProxy) MessageStop(dest string) {
	p.log.Debug("peer command", "command", "message.stop", "destination", dest)
}

func (p *loggingProxy) MessageFlow(dest string, unit uint8, value uint32) {
	p.log.Debug("peer command", "command", "message.flow", "destination", dest, "unit", unit, "value", value)
}

func (p *loggingProxy) MessageSetFlowMode(dest string, mode uint8) {
	p.log.Debug("peer command", "command", "message.setFlowMode", "destination", dest, "mode", mode)
}

func (p *loggingProxy) MessageAccept(transfers *framing.SequenceSet) {
	p.log.Debug("peer command", "command", "message.accept", "transfers", transfers.String())
}

func (p *loggingProxy) ExecutionResult(id framing.SequenceNumber, value []byte) {
	p.log.Debug("peer command", "command", "execution.result", "id", uint32(id), "bytes", len(value))
}

func (p *loggingProxy) ExecutionSync() {
	p.log.Debug("peer command", "command", "execution.sync")
}

func (p *loggingProxy) SessionCompleted(commands *framing.SequenceSet) {
	p.log.Debug("peer command", "command", "session.completed", "commands", commands.String())
}

func (p *loggingProxy) SessionDetach(name string) {
	p.log.Debug("peer command", "command", "session.detach", "name", name)
}

// passthroughSemantics accepts every message without retaining it, so
// receive completion fires synchronously.
type passthroughSemantics struct {
	log *logger.Logger
}

func (s *passthroughSemantics) Handle(env *session.MessageEnvelope) error {
	s.log.Debug("message handled", "command", uint32(env.CommandID()), "bytes", env.ContentSize())
	return nil
}

func (s *passthroughSemantics) Attached()                      {}
func (s *passthroughSemantics) Detached()                      {}
func (s *passthroughSemantics) Closed()                        {}
func (s *passthroughSemantics) Completed(*framing.SequenceSet) {}
