// Package protocol defines the frames exchanged with gateway clients.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/HMasataka/linehub/pkg/domain"
)

// Version is the frame format version
const Version = "1.0"

// Request types sent by clients
const (
	RequestSubscribe        = "whatsapp:subscribe"
	RequestLines            = "whatsapp:lineas"
	RequestHistory          = "whatsapp:solicitarHistorial"
	RequestSend             = "whatsapp:enviarMensaje"
	RequestSendAlias        = "enviarMensaje"
	RequestRegisterIncoming = "whatsapp:registrarEntrante"
	RequestUpdateStatus     = "whatsapp:actualizarEstado"
	RequestUpsertLine       = "whatsapp:upsertLinea"
	RequestStartSession     = "whatsapp:iniciarSesion"
	RequestAuthenticate     = "whatsapp:autenticar"
)

// Push types sent by the server
const (
	PushLines       = "whatsapp:lineas"
	PushLineUpdated = "whatsapp:lineaActualizada"
	PushLineStatus  = "whatsapp:estadoLinea"
	PushNewMessage  = "whatsapp:nuevoMensaje"
	PushHistory     = "whatsapp:historial"
	PushPairing     = "whatsapp:new_qr"
	PushLineRemoved = "whatsapp:lineaEliminada"
	PushError       = "whatsapp:error"
)

// TypeAck marks the acknowledgement of a request
const TypeAck = "ack"

// Frame is one JSON message on the wire. Client requests that want an
// acknowledgement carry an ID; the ack echoes it in ReplyTo.
type Frame struct {
	Version   string          `json:"version,omitempty"`
	ID        string          `json:"id,omitempty"`
	Type      string          `json:"type"`
	ReplyTo   string          `json:"replyTo,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewFrame creates a server frame carrying payload
func NewFrame(frameType string, payload any) (*Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", frameType, err)
	}
	return &Frame{
		Version:   Version,
		ID:        xid.New().String(),
		Type:      frameType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// NewAck creates the acknowledgement for request id
func NewAck(id string, ack Ack) (*Frame, error) {
	f, err := NewFrame(TypeAck, ack)
	if err != nil {
		return nil, err
	}
	f.ReplyTo = id
	return f, nil
}

// WantsAck reports whether the sender asked for an acknowledgement
func (f *Frame) WantsAck() bool {
	return f.ID != ""
}

// Decode decodes the frame payload into v. An empty payload leaves v
// untouched.
func (f *Frame) Decode(v any) error {
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

// Marshal marshals the frame to bytes
func (f *Frame) Marshal() ([]byte, error) {
	return json.Marshal(f)
}

// Unmarshal unmarshals bytes into a frame
func Unmarshal(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: malformed frame", domain.ErrInvalidRequest)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("%w: frame without type", domain.ErrInvalidRequest)
	}
	return &f, nil
}

// Ack is the acknowledgement payload. Result fields are merged into the
// top-level object next to ok.
type Ack struct {
	OK     bool
	Error  string
	Code   string
	Result map[string]any
}

// MarshalJSON flattens Result next to the status fields
func (a Ack) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Result)+3)
	for k, v := range a.Result {
		out[k] = v
	}
	out["ok"] = a.OK
	if !a.OK {
		out["error"] = a.Error
		if a.Code != "" {
			out["code"] = a.Code
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON
func (a *Ack) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = Ack{Result: make(map[string]any)}
	for k, v := range raw {
		switch k {
		case "ok":
			a.OK, _ = v.(bool)
		case "error":
			a.Error, _ = v.(string)
		case "code":
			a.Code, _ = v.(string)
		default:
			a.Result[k] = v
		}
	}
	return nil
}

// ErrorPush is the payload of PushError
type ErrorPush struct {
	LineID  string `json:"lineId,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
