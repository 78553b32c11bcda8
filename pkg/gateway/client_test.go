package gateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/HMasataka/linehub/pkg/errors"
	"github.com/HMasataka/linehub/pkg/transport/protocol"
)

func (f *fixture) dialClient(t *testing.T, token string) *Client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	c, err := Dial(context.Background(), url, ClientOptions{Token: token, RequestTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientRequestAndPush(t *testing.T) {
	f := newFixture(t, Options{})
	c := f.dialClient(t, adminToken)

	pushes := make(chan *protocol.Frame, 8)
	c.OnPush(protocol.PushNewMessage, func(_ context.Context, frame *protocol.Frame) {
		pushes <- frame
	})

	ctx := context.Background()
	if _, err := c.Request(ctx, protocol.RequestSubscribe, nil); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	result, err := c.Request(ctx, protocol.RequestSend, map[string]any{
		"lineId": "caja-centro",
		"to":     "5491100000000",
		"body":   "Hola",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, ok := result["message"]; !ok {
		t.Fatalf("send result missing message: %v", result)
	}

	select {
	case frame := <-pushes:
		var payload struct {
			LineID string `json:"lineId"`
		}
		if err := frame.Decode(&payload); err != nil {
			t.Fatalf("decode push: %v", err)
		}
		if payload.LineID != "caja-centro" {
			t.Fatalf("push for line %q", payload.LineID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no new message push")
	}
}

func TestClientNegativeAckCarriesCode(t *testing.T) {
	f := newFixture(t, Options{})
	c := f.dialClient(t, adminToken)

	_, err := c.Request(context.Background(), protocol.RequestSend, map[string]any{
		"lineId": "no-existe",
		"body":   "Hola",
	})
	if !errors.HasCode(err, errors.CodeLineNotFound) {
		t.Fatalf("err = %v, want line_not_found", err)
	}
}

func TestClientRequestAfterClose(t *testing.T) {
	f := newFixture(t, Options{})
	c := f.dialClient(t, adminToken)
	c.Close()

	if _, err := c.Request(context.Background(), protocol.RequestLines, nil); err == nil {
		t.Fatal("expected an error after close")
	}
}
