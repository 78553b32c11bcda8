package websocket

import (
	"net/http/httptest"
	"testing"

	"github.com/HMasataka/linehub/internal/logging"
)

func TestAllowOrigins(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    bool
	}{
		{"empty list admits all", nil, "https://evil.example", true},
		{"wildcard admits all", []string{"https://caja.example", "*"}, "https://evil.example", true},
		{"listed origin", []string{"https://caja.example"}, "https://caja.example", true},
		{"unlisted origin", []string{"https://caja.example"}, "https://evil.example", false},
		{"no origin header", []string{"https://caja.example"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := AllowOrigins(tt.origins)(r); got != tt.want {
				t.Fatalf("AllowOrigins(%v)(%q) = %v, want %v", tt.origins, tt.origin, got, tt.want)
			}
		})
	}
}

func TestSendBufferFull(t *testing.T) {
	opts := DefaultConnOptions()
	opts.SendBuffer = 1
	c := NewConn("conn-1", nil, logging.Nop(), opts)
	defer c.Close()

	if err := c.Send([]byte("uno")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.Send([]byte("dos")); err != ErrSendBufferFull {
		t.Fatalf("second send = %v, want ErrSendBufferFull", err)
	}
}
