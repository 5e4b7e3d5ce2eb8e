package amount

import (
	"math/big"
	"testing"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		in       string
		decimals int32
		want     string
		wantErr  bool
	}{
		{in: "100", decimals: 6, want: "100000000"},
		{in: "9.98", decimals: 18, want: "9980000000000000000"},
		{in: "0.000001", decimals: 6, want: "1"},
		{in: "0.0000001", decimals: 6, wantErr: true},
		{in: "-1", decimals: 6, wantErr: true},
		{in: "0", decimals: 6, wantErr: true},
		{in: "abc", decimals: 6, wantErr: true},
	}
	for _, tt := range tests {
		got, err := ToBaseUnits(tt.in, tt.decimals)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ToBaseUnits(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ToBaseUnits(%q) error: %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ToBaseUnits(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFromBaseUnits(t *testing.T) {
	if got := FromBaseUnits(big.NewInt(9_980_000), 6); got != "9.98" {
		t.Errorf("FromBaseUnits = %s, want 9.98", got)
	}
	if got := FromBaseUnits(nil, 6); got != "0" {
		t.Errorf("FromBaseUnits(nil) = %s", got)
	}
}

func TestApplyBps(t *testing.T) {
	if got := ApplyBps(big.NewInt(10_000), 50); got.Int64() != 9_950 {
		t.Errorf("ApplyBps = %s, want 9950", got)
	}
	if got := ApplyBps(big.NewInt(3), 50); got.Int64() != 2 {
		t.Errorf("ApplyBps rounds down, got %s", got)
	}
}
