package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/HMasataka/linehub/pkg/domain"
	"github.com/HMasataka/linehub/pkg/hub"
	"github.com/HMasataka/linehub/pkg/transport/protocol"
)

// lineRef accepts the line identifier under its current and legacy keys
type lineRef struct {
	LineID string `json:"lineId"`
	Linea  string `json:"linea"`
}

func (r lineRef) lineID() string {
	if id := strings.TrimSpace(r.LineID); id != "" {
		return id
	}
	return strings.TrimSpace(r.Linea)
}

type historyRequest struct {
	lineRef
	Limit int `json:"limit"`
}

type sendRequest struct {
	lineRef
	To       string         `json:"to"`
	Body     string         `json:"body"`
	Metadata map[string]any `json:"metadata"`
}

type incomingRequest struct {
	lineRef
	Body     string         `json:"body"`
	From     string         `json:"from"`
	To       string         `json:"to"`
	Metadata map[string]any `json:"metadata"`
}

type statusRequest struct {
	lineRef
	Status   string `json:"status"`
	Estado   string `json:"estado"`
	Metadata struct {
		LastConnectedAt *time.Time `json:"lastConnectedAt"`
		UltimaConexion  *time.Time `json:"ultimaConexion"`
		Reason          string     `json:"reason"`
	} `json:"metadata"`
}

type upsertRequest struct {
	lineRef
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Nombre      string `json:"nombre"`
}

type authRequest struct {
	Token string `json:"token"`
}

func (g *Gateway) handleAuthenticate(ctx context.Context, req *protocol.Frame) (protocol.Result, error) {
	var in authRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	s := sessionFrom(ctx)

	id, err := g.authn.Authenticate(ctx, strings.TrimSpace(in.Token))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	wasReadable := s.readable(s.State())
	s.setIdentity(id)
	s.logger.Info("connection authenticated", "subject_id", id.SubjectID, "subject_type", id.SubjectType)

	if !wasReadable || !s.subscribed.Load() {
		if _, err := s.subscribe(ctx); err != nil {
			return nil, err
		}
	}

	res := protocol.Result{
		"subjectId":   id.SubjectID,
		"subjectType": id.SubjectType,
	}
	if !id.ExpiresAt.IsZero() {
		res["expiresAt"] = id.ExpiresAt
	}
	return res, nil
}

func (g *Gateway) handleSubscribe(ctx context.Context, _ *protocol.Frame) (protocol.Result, error) {
	lines, err := sessionFrom(ctx).subscribe(ctx)
	if err != nil {
		return nil, err
	}
	return protocol.Result{"lines": lines}, nil
}

func (g *Gateway) handleLines(ctx context.Context, _ *protocol.Frame) (protocol.Result, error) {
	lines, err := g.hub.GetLines(ctx)
	if err != nil {
		return nil, err
	}
	sessionFrom(ctx).push(protocol.PushLines, map[string]any{"lines": lines})
	return protocol.Result{"lines": lines}, nil
}

func (g *Gateway) handleHistory(ctx context.Context, req *protocol.Frame) (protocol.Result, error) {
	var in historyRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	lineID := in.lineID()

	msgs, err := g.hub.GetMessages(ctx, lineID, in.Limit)
	if err != nil {
		return protocol.Result{"lineId": lineID}, err
	}
	sessionFrom(ctx).push(protocol.PushHistory, map[string]any{"lineId": lineID, "messages": msgs})
	return protocol.Result{"lineId": lineID, "count": len(msgs)}, nil
}

func (g *Gateway) handleSend(ctx context.Context, req *protocol.Frame) (protocol.Result, error) {
	var in sendRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	msg, err := g.hub.SendOutbound(ctx, in.lineID(), in.To, in.Body, in.Metadata)
	if err != nil {
		return protocol.Result{"lineId": in.lineID()}, err
	}
	return protocol.Result{"message": msg}, nil
}

func (g *Gateway) handleRegisterIncoming(ctx context.Context, req *protocol.Frame) (protocol.Result, error) {
	var in incomingRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.lineID()) == "" {
		return nil, domain.ErrMissingLine
	}
	msg, err := g.hub.RegisterIncoming(ctx, in.lineID(), in.Body, in.From, in.To, in.Metadata)
	if err != nil {
		return protocol.Result{"lineId": in.lineID()}, err
	}
	return protocol.Result{"message": msg}, nil
}

func (g *Gateway) handleUpdateStatus(ctx context.Context, req *protocol.Frame) (protocol.Result, error) {
	var in statusRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	status := in.Status
	if status == "" {
		status = in.Estado
	}
	meta := hub.StatusMetadata{
		LastConnectedAt: in.Metadata.LastConnectedAt,
		Reason:          in.Metadata.Reason,
	}
	if meta.LastConnectedAt == nil {
		meta.LastConnectedAt = in.Metadata.UltimaConexion
	}

	line, err := g.hub.SetLineStatus(ctx, in.lineID(), status, meta)
	if err != nil {
		return protocol.Result{"lineId": in.lineID()}, err
	}
	return protocol.Result{"lineId": line.ID, "status": line.Status, "line": line}, nil
}

func (g *Gateway) handleUpsertLine(ctx context.Context, req *protocol.Frame) (protocol.Result, error) {
	var in upsertRequest
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	key := strings.TrimSpace(in.ID)
	if key == "" {
		key = in.lineID()
	}
	name := in.DisplayName
	if strings.TrimSpace(name) == "" {
		name = in.Nombre
	}

	line, created, err := g.hub.CreateLine(ctx, key, name)
	if err != nil {
		return nil, err
	}
	return protocol.Result{"lineId": line.ID, "line": line, "created": created}, nil
}

func (g *Gateway) handleStartSession(ctx context.Context, req *protocol.Frame) (protocol.Result, error) {
	var in lineRef
	if err := req.Decode(&in); err != nil {
		return nil, err
	}
	pc, err := g.hub.StartSession(ctx, in.lineID())
	if err != nil {
		return protocol.Result{"lineId": in.lineID()}, err
	}
	res := protocol.Result{"lineId": pc.LineID, "challenge": pc.Challenge}
	if pc.ExpiresAt != nil {
		res["expiresAt"] = pc.ExpiresAt
	}
	return res, nil
}
