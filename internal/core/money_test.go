package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.0", "1", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"0.01", "0.01", true},
		{"0", "0", true},
		{"1.005", "1.01", true}, // half-up rounding
		{" 2.50 ", "2.5", true},
		{"-1", "", false},
		{"+1", "", false},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"1e3", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(decimal.RequireFromString(tc.out)) {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestLenientAmount(t *testing.T) {
	if !LenientAmount("12.5").Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("expected 12.5")
	}
	for _, in := range []string{"", "abc", "NaN", "12,5"} {
		if !LenientAmount(in).IsZero() {
			t.Fatalf("%q expected zero", in)
		}
	}
}

func TestWithinEpsilon(t *testing.T) {
	cases := map[string]bool{
		"-5":    true,
		"0":     true,
		"0.01":  true,
		"0.011": false,
		"1":     false,
	}
	for in, want := range cases {
		if got := WithinEpsilon(decimal.RequireFromString(in)); got != want {
			t.Errorf("WithinEpsilon(%s) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatEuros(t *testing.T) {
	cases := map[string]string{
		"12.34": "€12,34",
		"0":     "€0,00",
		"-3.5":  "-€3,50",
		"1000":  "€1000,00",
	}
	for in, want := range cases {
		if got := FormatEuros(decimal.RequireFromString(in)); got != want {
			t.Errorf("FormatEuros(%s) = %q, want %q", in, got, want)
		}
	}
}
