package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/HMasataka/linehub/pkg/domain"
)

func TestAckFlattensResult(t *testing.T) {
	ack := Ack{OK: true, Result: map[string]any{"lineId": "cajero1"}}
	data, err := json.Marshal(ack)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["ok"] != true || raw["lineId"] != "cajero1" {
		t.Fatalf("unexpected ack %s", data)
	}
	if _, ok := raw["error"]; ok {
		t.Fatalf("successful ack carries error: %s", data)
	}

	var back Ack
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !back.OK || back.Result["lineId"] != "cajero1" {
		t.Fatalf("decoded %+v", back)
	}
}

func TestFailedAck(t *testing.T) {
	data, err := json.Marshal(Ack{Error: "unauthorized", Code: "unauthorized"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"code":"unauthorized","error":"unauthorized","ok":false}` {
		t.Fatalf("unexpected ack %s", data)
	}
}

func TestUnmarshalRejectsBadFrames(t *testing.T) {
	for _, in := range []string{`not json`, `{"id":"1"}`} {
		if _, err := Unmarshal([]byte(in)); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Fatalf("Unmarshal(%q) = %v", in, err)
		}
	}

	f, err := Unmarshal([]byte(`{"id":"r1","type":"whatsapp:lineas"}`))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !f.WantsAck() {
		t.Fatal("frame with id should want an ack")
	}
	var v struct{ X int }
	if err := f.Decode(&v); err != nil {
		t.Fatalf("empty payload: %v", err)
	}
}

func TestRegistryAliases(t *testing.T) {
	r := NewHandlerRegistry()
	r.Register(Route{Handler: HandlerFunc(func(context.Context, *Frame) (Result, error) {
		return Result{"handled": true}, nil
	}), Mutating: true}, RequestSend, RequestSendAlias)

	for _, typ := range []string{RequestSend, RequestSendAlias} {
		route, ok := r.Get(typ)
		if !ok || !route.Mutating {
			t.Fatalf("route for %s = %+v, %v", typ, route, ok)
		}
		res, err := r.Handle(context.Background(), &Frame{Type: typ})
		if err != nil || res["handled"] != true {
			t.Fatalf("handle %s: %v %v", typ, res, err)
		}
	}

	if _, err := r.Handle(context.Background(), &Frame{Type: "whatsapp:nope"}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("unknown request: %v", err)
	}
}
