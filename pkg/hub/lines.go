package hub

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/HMasataka/linehub/internal/eventbus"
	"github.com/HMasataka/linehub/internal/metrics"
	"github.com/HMasataka/linehub/pkg/domain"
	"github.com/HMasataka/linehub/pkg/registry"
)

// RemoveOptions controls RemoveLine
type RemoveOptions struct {
	// DropRegistry deletes the line record as well as its history
	DropRegistry bool
}

// GetLines returns every line with its last message, most recently active
// first. Lines without activity sort last by display name.
func (h *Hub) GetLines(ctx context.Context) ([]domain.LineSummary, error) {
	lines, err := h.registry.List(ctx)
	if err != nil {
		return nil, h.fail(ctx, "get_lines", err)
	}

	summaries := make([]domain.LineSummary, 0, len(lines))
	for _, line := range lines {
		last, err := h.log.Last(ctx, line.ID)
		if err != nil {
			return nil, h.fail(ctx, "get_lines", err)
		}
		summaries = append(summaries, domain.LineSummary{Line: line, LastMessage: last})
	}

	sortSummaries(summaries)
	return summaries, nil
}

func sortSummaries(summaries []domain.LineSummary) {
	col := collate.New(language.Spanish, collate.IgnoreCase, collate.IgnoreDiacritics)
	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i].LastMessageAt, summaries[j].LastMessageAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return col.CompareString(summaries[i].DisplayName, summaries[j].DisplayName) < 0
	})
}

// GetLine returns a single line summary
func (h *Hub) GetLine(ctx context.Context, lineID string) (domain.LineSummary, error) {
	if strings.TrimSpace(lineID) == "" {
		return domain.LineSummary{}, domain.ErrMissingLine
	}
	line, err := h.registry.Get(ctx, lineID)
	if err != nil {
		return domain.LineSummary{}, h.fail(ctx, "get_line", err)
	}
	return h.summarize(ctx, line), nil
}

// CreateLine registers a line or renames an existing one
func (h *Hub) CreateLine(ctx context.Context, sessionKey, displayName string, opts ...CallOption) (domain.LineSummary, bool, error) {
	o := applyCallOptions(opts)

	id, err := registry.ResolveID(sessionKey, displayName)
	if err != nil {
		return domain.LineSummary{}, false, h.fail(ctx, "create_line", err)
	}
	id, unlock, err := h.lockLine(id)
	if err != nil {
		return domain.LineSummary{}, false, h.fail(ctx, "create_line", err)
	}
	defer unlock()

	line, created, err := h.registry.Create(ctx, id, displayName)
	if err != nil {
		return domain.LineSummary{}, false, h.fail(ctx, "create_line", err)
	}
	if created {
		metrics.LinesCreated.Inc()
		h.logger.Info("line created", "line_id", line.ID, "display_name", line.DisplayName)
	}

	summary := h.summarize(ctx, line)
	if !o.silent {
		h.publish(eventbus.EventLineUpdated, LineUpdated{LineID: line.ID, Line: summary})
	}
	return summary, created, nil
}

// RenameLine sets the display name of an existing line
func (h *Hub) RenameLine(ctx context.Context, lineID, displayName string, opts ...CallOption) (domain.LineSummary, error) {
	o := applyCallOptions(opts)

	id, unlock, err := h.lockLine(lineID)
	if err != nil {
		return domain.LineSummary{}, h.fail(ctx, "rename_line", err)
	}
	defer unlock()

	line, err := h.registry.Rename(ctx, id, displayName)
	if err != nil {
		return domain.LineSummary{}, h.fail(ctx, "rename_line", err)
	}
	summary := h.summarize(ctx, line)
	if !o.silent {
		h.publish(eventbus.EventLineUpdated, LineUpdated{LineID: line.ID, Line: summary})
	}
	return summary, nil
}

// RemoveLine wipes the history of a line and cancels its pairing. With
// DropRegistry the line record is deleted too; otherwise the line is kept
// and reset to disconnected.
func (h *Hub) RemoveLine(ctx context.Context, lineID string, ro RemoveOptions, opts ...CallOption) error {
	o := applyCallOptions(opts)

	id, unlock, err := h.lockLine(lineID)
	if err != nil {
		return h.fail(ctx, "remove_line", err)
	}
	defer unlock()

	line, err := h.registry.Get(ctx, id)
	if err != nil {
		return h.fail(ctx, "remove_line", err)
	}

	h.clearPairing(id)
	if err := h.log.Clear(ctx, id); err != nil {
		return h.fail(ctx, "remove_line", err)
	}

	if ro.DropRegistry {
		if err := h.registry.Remove(ctx, id); err != nil {
			return h.fail(ctx, "remove_line", err)
		}
	} else if line.Status != domain.StatusDisconnected {
		if line, err = h.registry.UpdateStatus(ctx, id, domain.StatusDisconnected, nil); err != nil {
			return h.fail(ctx, "remove_line", err)
		}
	}

	h.logger.Info("line removed", "line_id", id, "drop_registry", ro.DropRegistry)
	if o.silent {
		return nil
	}

	h.publish(eventbus.EventLineRemoved, LineRemoved{LineID: id, DroppedRegistry: ro.DropRegistry})
	if !ro.DropRegistry {
		h.publishLine(ctx, line)
	}
	return nil
}

// PurgeMessages deletes the history of one line and keeps the line
func (h *Hub) PurgeMessages(ctx context.Context, lineID string, opts ...CallOption) error {
	o := applyCallOptions(opts)

	id, unlock, err := h.lockLine(lineID)
	if err != nil {
		return h.fail(ctx, "purge_messages", err)
	}
	defer unlock()

	if err := h.log.Clear(ctx, id); err != nil {
		return h.fail(ctx, "purge_messages", err)
	}
	if o.silent {
		return nil
	}
	line, err := h.registry.Get(ctx, id)
	if err != nil {
		return h.fail(ctx, "purge_messages", err)
	}
	h.publishLine(ctx, line)
	return nil
}

// PurgeAll deletes the history of every line
func (h *Hub) PurgeAll(ctx context.Context, opts ...CallOption) error {
	o := applyCallOptions(opts)

	if err := h.log.ClearAll(ctx); err != nil {
		return h.fail(ctx, "purge_all", err)
	}
	h.logger.Info("all message history purged")
	if o.silent {
		return nil
	}

	lines, err := h.registry.List(ctx)
	if err != nil {
		return h.fail(ctx, "purge_all", err)
	}
	for _, line := range lines {
		h.publishLine(ctx, line)
	}
	return nil
}
