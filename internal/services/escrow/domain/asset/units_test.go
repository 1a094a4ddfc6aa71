package asset

import "testing"

func TestParseUnits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      string
		decimals int32
		want     string
		wantErr  bool
	}{
		{name: "tenth of ether", raw: "0.1", decimals: 18, want: "100000000000000000"},
		{name: "whole", raw: "10", decimals: 18, want: "10000000000000000000"},
		{name: "zero decimals", raw: "25", decimals: 0, want: "25"},
		{name: "padded", raw: " 1.5 ", decimals: 6, want: "1500000"},
		{name: "too precise", raw: "0.0000001", decimals: 6, wantErr: true},
		{name: "negative", raw: "-1", decimals: 18, wantErr: true},
		{name: "garbage", raw: "ten", decimals: 18, wantErr: true},
		{name: "bad decimals", raw: "1", decimals: -1, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseUnits(tc.raw, tc.decimals)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", got.Dec())
				}
				return
			}
			if err != nil {
				t.Fatalf("parse units: %v", err)
			}
			if got.Dec() != tc.want {
				t.Fatalf("ParseUnits(%q, %d) = %s, want %s", tc.raw, tc.decimals, got.Dec(), tc.want)
			}
		})
	}
}

func TestParseUnitsList(t *testing.T) {
	t.Parallel()

	got, err := ParseUnitsList("0.01, 1.0", 18)
	if err != nil {
		t.Fatalf("parse list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Dec() != "10000000000000000" || got[1].Dec() != "1000000000000000000" {
		t.Fatalf("tiers = [%s %s]", got[0].Dec(), got[1].Dec())
	}

	empty, err := ParseUnitsList("  ", 18)
	if err != nil {
		t.Fatalf("parse empty list: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty list, got %d", len(empty))
	}
}

func TestFormatUnits(t *testing.T) {
	t.Parallel()

	amount, err := ParseUnits("9.8", 18)
	if err != nil {
		t.Fatalf("parse units: %v", err)
	}
	if got := FormatUnits(&amount, 18); got != "9.8" {
		t.Fatalf("FormatUnits = %q, want 9.8", got)
	}
	if got := FormatUnits(nil, 18); got != "0" {
		t.Fatalf("FormatUnits(nil) = %q, want 0", got)
	}
}
