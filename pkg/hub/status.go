package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/HMasataka/linehub/internal/eventbus"
	"github.com/HMasataka/linehub/internal/metrics"
	"github.com/HMasataka/linehub/pkg/domain"
	"github.com/HMasataka/linehub/pkg/linestate"
)

// StatusMetadata accompanies a status change
type StatusMetadata struct {
	LastConnectedAt *time.Time
	Reason          string
	// FromAdapter marks reports coming from the transport adapter. Those
	// follow the pairing edges strictly; operator requests may force
	// connected or disconnected.
	FromAdapter bool
}

type pairing struct {
	challenge PairingChallenge
	timer     *time.Timer
}

func (p *pairing) stop() {
	if p.timer != nil {
		p.timer.Stop()
	}
}

// SetLineStatus moves a line to the named status. Unrecognized values are
// rejected with invalid_status and leave the line untouched. Requesting the
// current status is a no-op.
func (h *Hub) SetLineStatus(ctx context.Context, lineID, status string, meta StatusMetadata, opts ...CallOption) (domain.Line, error) {
	o := applyCallOptions(opts)

	target, err := linestate.Parse(status)
	if err != nil {
		return domain.Line{}, h.fail(ctx, "set_status", err)
	}

	id, unlock, err := h.lockLine(lineID)
	if err != nil {
		return domain.Line{}, h.fail(ctx, "set_status", err)
	}
	defer unlock()

	line, err := h.registry.Get(ctx, id)
	if err != nil {
		return domain.Line{}, h.fail(ctx, "set_status", err)
	}
	if line.Status == target && target != domain.StatusWaitingQR {
		return line, nil
	}

	ev, err := linestate.EventFor(line.Status, target, !meta.FromAdapter)
	if err != nil {
		return domain.Line{}, h.fail(ctx, "set_status", err)
	}
	line, err = h.transition(ctx, line, ev, meta, o)
	if err != nil {
		return domain.Line{}, h.fail(ctx, "set_status", err)
	}
	return line, nil
}

// StartSession puts a line into waiting_qr and issues a fresh pairing
// challenge. Calling it again while waiting replaces the challenge.
func (h *Hub) StartSession(ctx context.Context, lineID string) (PairingChallenge, error) {
	id, unlock, err := h.lockLine(lineID)
	if err != nil {
		return PairingChallenge{}, h.fail(ctx, "start_session", err)
	}
	defer unlock()

	line, err := h.registry.Get(ctx, id)
	if err != nil {
		return PairingChallenge{}, h.fail(ctx, "start_session", err)
	}
	if _, err := h.transition(ctx, line, linestate.EventStartSession, StatusMetadata{}, callOptions{}); err != nil {
		return PairingChallenge{}, h.fail(ctx, "start_session", err)
	}

	pc, _ := h.PendingChallenge(id)
	return pc, nil
}

// ConfirmPairing completes the pairing of a line in waiting_qr. A non-empty
// challenge must match the one currently issued.
func (h *Hub) ConfirmPairing(ctx context.Context, lineID, challenge string) (domain.Line, error) {
	id, unlock, err := h.lockLine(lineID)
	if err != nil {
		return domain.Line{}, h.fail(ctx, "confirm_pairing", err)
	}
	defer unlock()

	if challenge != "" {
		pc, ok := h.PendingChallenge(id)
		if !ok || pc.Challenge != challenge {
			return domain.Line{}, h.fail(ctx, "confirm_pairing", fmt.Errorf("%w: stale pairing challenge", domain.ErrInvalidTransition))
		}
	}

	line, err := h.registry.Get(ctx, id)
	if err != nil {
		return domain.Line{}, h.fail(ctx, "confirm_pairing", err)
	}
	line, err = h.transition(ctx, line, linestate.EventPaired, StatusMetadata{FromAdapter: true}, callOptions{})
	if err != nil {
		return domain.Line{}, h.fail(ctx, "confirm_pairing", err)
	}
	return line, nil
}

// FailPairing moves a waiting line to error
func (h *Hub) FailPairing(ctx context.Context, lineID, reason string) (domain.Line, error) {
	return h.applyEvent(ctx, "fail_pairing", lineID, linestate.EventPairingFailed, reason)
}

// ReportDisconnected records that the transport lost a connected line
func (h *Hub) ReportDisconnected(ctx context.Context, lineID, reason string) (domain.Line, error) {
	return h.applyEvent(ctx, "report_disconnected", lineID, linestate.EventDisconnected, reason)
}

// PendingChallenge returns the pairing challenge currently issued for a line
func (h *Hub) PendingChallenge(lineID string) (PairingChallenge, bool) {
	h.pairingMu.Lock()
	defer h.pairingMu.Unlock()

	p, ok := h.pairings[domain.NormalizeLineID(lineID)]
	if !ok {
		return PairingChallenge{}, false
	}
	return p.challenge, true
}

func (h *Hub) applyEvent(ctx context.Context, op, lineID string, ev linestate.Event, reason string) (domain.Line, error) {
	id, unlock, err := h.lockLine(lineID)
	if err != nil {
		return domain.Line{}, h.fail(ctx, op, err)
	}
	defer unlock()

	line, err := h.registry.Get(ctx, id)
	if err != nil {
		return domain.Line{}, h.fail(ctx, op, err)
	}
	line, err = h.transition(ctx, line, ev, StatusMetadata{Reason: reason, FromAdapter: true}, callOptions{})
	if err != nil {
		return domain.Line{}, h.fail(ctx, op, err)
	}
	return line, nil
}

// transition applies ev to line. Callers hold the line lock.
func (h *Hub) transition(ctx context.Context, line domain.Line, ev linestate.Event, meta StatusMetadata, o callOptions) (domain.Line, error) {
	previous := line.Status
	next, err := linestate.Next(previous, ev)
	if err != nil {
		return domain.Line{}, err
	}

	updated, err := h.registry.UpdateStatus(ctx, line.ID, next, meta.LastConnectedAt)
	if err != nil {
		return domain.Line{}, err
	}
	metrics.StatusTransitions.WithLabelValues(string(next)).Inc()

	if linestate.LeavesPairing(previous, next) {
		h.clearPairing(line.ID)
	}

	h.logger.Info("line status changed",
		"line_id", line.ID,
		"from", string(previous),
		"to", string(next),
		"event", string(ev),
		"reason", meta.Reason,
	)

	var pc *PairingChallenge
	if next == domain.StatusWaitingQR {
		issued, err := h.issueChallenge(line.ID)
		if err != nil {
			return domain.Line{}, err
		}
		pc = &issued
	}

	if o.silent {
		return updated, nil
	}

	if previous != next {
		h.publish(eventbus.EventLineStatusChanged, StatusChanged{
			LineID:          updated.ID,
			Status:          next,
			Previous:        previous,
			LastConnectedAt: updated.LastConnectedAt,
			Reason:          meta.Reason,
		})
		h.publishLine(ctx, updated)
	}
	if pc != nil {
		h.publish(eventbus.EventPairingChallenge, *pc)
	}
	return updated, nil
}

func (h *Hub) issueChallenge(lineID string) (PairingChallenge, error) {
	code, err := h.newChallenge()
	if err != nil {
		return PairingChallenge{}, fmt.Errorf("generate pairing challenge: %w", err)
	}

	now := h.now().UTC()
	pc := PairingChallenge{LineID: lineID, Challenge: code, IssuedAt: now}
	p := &pairing{challenge: pc}
	if h.pairingTimeout > 0 {
		expires := now.Add(h.pairingTimeout)
		p.challenge.ExpiresAt = &expires
		p.timer = time.AfterFunc(h.pairingTimeout, func() {
			h.expirePairing(lineID, code)
		})
	}

	h.pairingMu.Lock()
	if old, ok := h.pairings[lineID]; ok {
		old.stop()
	}
	h.pairings[lineID] = p
	h.pairingMu.Unlock()

	return p.challenge, nil
}

func (h *Hub) clearPairing(lineID string) {
	h.pairingMu.Lock()
	defer h.pairingMu.Unlock()

	if p, ok := h.pairings[lineID]; ok {
		p.stop()
		delete(h.pairings, lineID)
	}
}

func (h *Hub) expirePairing(lineID, challenge string) {
	if h.stopped.Load() {
		return
	}
	unlock := h.locks.Lock(lineID)
	defer unlock()

	if pc, ok := h.PendingChallenge(lineID); !ok || pc.Challenge != challenge {
		return
	}

	ctx := context.Background()
	line, err := h.registry.Get(ctx, lineID)
	if err != nil {
		h.clearPairing(lineID)
		return
	}
	if _, err := h.transition(ctx, line, linestate.EventPairingFailed, StatusMetadata{Reason: "pairing timed out", FromAdapter: true}, callOptions{}); err != nil {
		_ = h.fail(ctx, "expire_pairing", err)
	}
}
