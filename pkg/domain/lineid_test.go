package domain

import "testing"

func TestNormalizeLineID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Caja Centro", "caja-centro"},
		{"caja-centro", "caja-centro"},
		{"  CAJA   CENTRO  ", "caja-centro"},
		{"Cája_Céntro!!", "caja-centro"},
		{"Ñandú 2", "nandu-2"},
		{"--soporte--", "soporte"},
		{"cajero1", "cajero1"},
		{"línea.principal", "linea-principal"},
		{"", ""},
		{"¡¿!?", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeLineID(tt.in); got != tt.want {
				t.Fatalf("NormalizeLineID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeLineIDIdempotent(t *testing.T) {
	inputs := []string{
		"Caja Centro", "Sucursal Nº 5", "ÀÉÎÕÜ", "a--b__c", " x ", "Zoë's line", "日本 line",
	}
	for _, in := range inputs {
		once := NormalizeLineID(in)
		if twice := NormalizeLineID(once); twice != once {
			t.Fatalf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNormalizeLineIDEquivalentNames(t *testing.T) {
	variants := []string{"Caja Centro", "caja centro", "CAJA-CENTRO", "Cajá  Céntro", "caja_centro"}
	want := NormalizeLineID(variants[0])
	for _, v := range variants[1:] {
		if got := NormalizeLineID(v); got != want {
			t.Fatalf("NormalizeLineID(%q) = %q, want %q", v, got, want)
		}
	}
}

func TestNewLineDefaultsDisplayName(t *testing.T) {
	line := NewLine("soporte", "   ", timeZero)
	if line.DisplayName != "soporte" {
		t.Fatalf("display name = %q", line.DisplayName)
	}
	if line.Status != StatusDisconnected {
		t.Fatalf("status = %q", line.Status)
	}
	if line.LastConnectedAt != nil || line.LastMessageAt != nil {
		t.Fatal("new line should have no timestamps")
	}
}
