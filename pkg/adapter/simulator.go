package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/HMasataka/linehub/internal/logging"
	"github.com/HMasataka/linehub/pkg/domain"
	"github.com/HMasataka/linehub/pkg/hub"
)

// SimulatorName is the adapter name used in configuration
const SimulatorName = "simulator"

// DefaultKeepDelivered is how many recent deliveries a simulator retains per
// line when SimulatorConfig.KeepDelivered is zero
const DefaultKeepDelivered = 32

// SimulatorConfig configures a Simulator
type SimulatorConfig struct {
	// SessionDir holds one directory per paired line
	SessionDir string
	// AutoPairDelay confirms pairings after the delay. Zero leaves lines
	// waiting for an explicit confirmation.
	AutoPairDelay time.Duration
	// KeepDelivered bounds the deliveries retained per line. Negative keeps
	// none; only the count is tracked.
	KeepDelivered int
}

// Simulator is an adapter that delivers nothing over the network. It keeps
// a per-line session directory and can confirm pairings on its own, which
// is enough to run the hub end to end without a phone.
type Simulator struct {
	cfg      SimulatorConfig
	reporter Reporter
	logger   *logging.Logger

	mu        sync.Mutex
	delivered map[string][]domain.Message
	counts    map[string]int
	timers    map[string]*time.Timer
}

// NewSimulator creates a simulator reporting back through r
func NewSimulator(cfg SimulatorConfig, r Reporter, logger *logging.Logger) *Simulator {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.KeepDelivered == 0 {
		cfg.KeepDelivered = DefaultKeepDelivered
	}
	return &Simulator{
		cfg:       cfg,
		reporter:  r,
		logger:    logger.Component("simulator"),
		delivered: make(map[string][]domain.Message),
		counts:    make(map[string]int),
		timers:    make(map[string]*time.Timer),
	}
}

// Name implements Adapter
func (s *Simulator) Name() string {
	return SimulatorName
}

// Deliver implements Adapter
func (s *Simulator) Deliver(_ context.Context, lineID string, msg domain.Message) error {
	s.mu.Lock()
	s.counts[lineID]++
	if keep := s.cfg.KeepDelivered; keep > 0 {
		recent := append(s.delivered[lineID], msg)
		if len(recent) > keep {
			recent = append(recent[:0:0], recent[len(recent)-keep:]...)
		}
		s.delivered[lineID] = recent
	}
	s.mu.Unlock()

	s.logger.Info("message delivered", "line_id", lineID, "message_id", msg.ID, "to", msg.To)
	return nil
}

// Delivered returns the most recent messages delivered for a line, oldest
// first
func (s *Simulator) Delivered(lineID string) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.delivered[lineID]...)
}

// DeliveredCount returns how many messages were delivered for a line
func (s *Simulator) DeliveredCount(lineID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[lineID]
}

// Pair implements Adapter
func (s *Simulator) Pair(ctx context.Context, pc hub.PairingChallenge) error {
	dir, err := s.sessionPath(pc.LineID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	s.logger.Info("pairing challenge issued", "line_id", pc.LineID)

	if s.cfg.AutoPairDelay <= 0 || s.reporter == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[pc.LineID]; ok {
		t.Stop()
	}
	s.timers[pc.LineID] = time.AfterFunc(s.cfg.AutoPairDelay, func() {
		s.mu.Lock()
		delete(s.timers, pc.LineID)
		s.mu.Unlock()

		if _, err := s.reporter.ConfirmPairing(context.WithoutCancel(ctx), pc.LineID, pc.Challenge); err != nil {
			s.logger.Warn("auto pairing rejected", "line_id", pc.LineID, "error", err)
		}
	})
	return nil
}

// Forget implements Adapter. The line's session directory is removed.
func (s *Simulator) Forget(_ context.Context, lineID string) error {
	s.mu.Lock()
	if t, ok := s.timers[lineID]; ok {
		t.Stop()
		delete(s.timers, lineID)
	}
	delete(s.delivered, lineID)
	delete(s.counts, lineID)
	s.mu.Unlock()

	dir, err := s.sessionPath(lineID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove session dir: %w", err)
	}
	s.logger.Info("session removed", "line_id", lineID)
	return nil
}

// Stop cancels pending auto pairings
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Simulator) sessionPath(lineID string) (string, error) {
	id := domain.NormalizeLineID(lineID)
	if id == "" || id != lineID {
		return "", fmt.Errorf("%w: %q", domain.ErrMissingLine, lineID)
	}
	return filepath.Join(s.cfg.SessionDir, id), nil
}
