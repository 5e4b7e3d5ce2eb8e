package postgres

import (
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestNumeric(t *testing.T) {
	if n := numeric(nil); !n.Valid || n.Int.Sign() != 0 {
		t.Errorf("numeric(nil) = %+v, want valid zero", n)
	}

	src := big.NewInt(42)
	n := numeric(src)
	src.SetInt64(7)
	if n.Int.Int64() != 42 {
		t.Error("numeric must copy its input")
	}
}

func TestParseNumeric(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"0", "0", false},
		{"115792089237316195423570985008687907853269984665640564039457584007913129639935", "115792089237316195423570985008687907853269984665640564039457584007913129639935", false},
		{"1.5", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := parseNumeric(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseNumeric(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got.String() != tt.want {
			t.Errorf("parseNumeric(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestAddressFromBytes(t *testing.T) {
	if _, err := addressFromBytes(make([]byte, 19)); err == nil {
		t.Error("expected error for short address")
	}
	if _, err := addressFromBytes(make([]byte, 20)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestIsForeignKeyViolation(t *testing.T) {
	if !isForeignKeyViolation(&pgconn.PgError{Code: "23503"}) {
		t.Error("23503 should be a foreign key violation")
	}
	if isForeignKeyViolation(&pgconn.PgError{Code: "23505"}) || isForeignKeyViolation(nil) {
		t.Error("unexpected foreign key violation")
	}
}

func TestNewOrderRepository_NilPool(t *testing.T) {
	if _, err := NewOrderRepository(nil, nil); err == nil {
		t.Error("expected error for nil pool")
	}
}
