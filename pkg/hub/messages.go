package hub

import (
	"context"
	"fmt"
	"strings"

	"github.com/HMasataka/linehub/internal/eventbus"
	"github.com/HMasataka/linehub/internal/metrics"
	"github.com/HMasataka/linehub/pkg/domain"
)

// GetMessages returns the most recent messages of a line in append order
func (h *Hub) GetMessages(ctx context.Context, lineID string, limit int) ([]domain.Message, error) {
	if strings.TrimSpace(lineID) == "" {
		return nil, h.fail(ctx, "get_messages", domain.ErrMissingLine)
	}
	msgs, err := h.log.Slice(ctx, lineID, limit)
	if err != nil {
		return nil, h.fail(ctx, "get_messages", err)
	}
	return msgs, nil
}

// AppendMessage stores msg on the line and publishes it. Unknown lines are
// created when auto-provisioning is enabled.
func (h *Hub) AppendMessage(ctx context.Context, lineID string, msg domain.Message, opts ...CallOption) (domain.Message, error) {
	stored, err := h.appendMessage(ctx, lineID, msg, appendMode{provision: h.autoProvision}, opts)
	if err != nil {
		return domain.Message{}, h.fail(ctx, "append_message", err)
	}
	return stored, nil
}

// SendOutbound records an operator message and requests its delivery from
// the transport adapter. The line must already exist.
func (h *Hub) SendOutbound(ctx context.Context, lineID, to, body string, metadata map[string]any) (domain.Message, error) {
	if strings.TrimSpace(lineID) == "" {
		return domain.Message{}, h.fail(ctx, "send_outbound", domain.ErrMissingLine)
	}
	if strings.TrimSpace(body) == "" {
		return domain.Message{}, h.fail(ctx, "send_outbound", fmt.Errorf("%w: empty body", domain.ErrInvalidRequest))
	}

	msg := domain.Message{
		Direction: domain.DirectionOutgoing,
		Body:      body,
		To:        strings.TrimSpace(to),
		Metadata:  metadata,
	}
	stored, err := h.appendMessage(ctx, lineID, msg, appendMode{deliver: true}, nil)
	if err != nil {
		return domain.Message{}, h.fail(ctx, "send_outbound", err)
	}
	return stored, nil
}

// RegisterIncoming records a message received by the transport adapter
func (h *Hub) RegisterIncoming(ctx context.Context, lineID, body, from, to string, metadata map[string]any) (domain.Message, error) {
	msg := domain.Message{
		Direction: domain.DirectionIncoming,
		Body:      body,
		From:      strings.TrimSpace(from),
		To:        strings.TrimSpace(to),
		Metadata:  metadata,
	}
	return h.AppendMessage(ctx, lineID, msg)
}

type appendMode struct {
	provision bool
	deliver   bool
}

func (h *Hub) appendMessage(ctx context.Context, lineID string, msg domain.Message, mode appendMode, opts []CallOption) (domain.Message, error) {
	o := applyCallOptions(opts)

	id, unlock, err := h.lockLine(lineID)
	if err != nil {
		return domain.Message{}, err
	}
	defer unlock()

	if _, err := h.log.Normalize(msg); err != nil {
		return domain.Message{}, err
	}

	created := false
	if mode.provision {
		line, isNew, err := h.registry.Ensure(ctx, id)
		if err != nil {
			return domain.Message{}, err
		}
		id, created = line.ID, isNew
	} else if _, err := h.registry.Get(ctx, id); err != nil {
		return domain.Message{}, err
	}

	if created {
		metrics.LinesCreated.Inc()
		h.logger.Info("line auto-provisioned", "line_id", id)
	}

	stored, err := h.log.Append(ctx, id, msg)
	if err != nil {
		return domain.Message{}, err
	}
	h.messagesAppended.Add(1)
	metrics.MessagesAppended.WithLabelValues(string(stored.Direction)).Inc()

	line, err := h.registry.TouchMessageActivity(ctx, id)
	if err != nil {
		// the message is already durable
		h.errs.Handle(ctx, err)
		line, err = h.registry.Get(ctx, id)
		if err != nil {
			return stored, nil
		}
	}

	if o.silent {
		return stored, nil
	}

	summary := domain.LineSummary{Line: line, LastMessage: &stored}
	if created {
		h.publish(eventbus.EventLineUpdated, LineUpdated{LineID: id, Line: summary})
	}
	if mode.deliver {
		h.publish(eventbus.EventDeliveryRequested, DeliveryRequest{LineID: id, Message: stored})
	}
	h.publish(eventbus.EventMessageAppended, NewMessage{LineID: id, Message: stored})
	h.publish(eventbus.EventLineUpdated, LineUpdated{LineID: id, Line: summary})
	return stored, nil
}
