package domain

import (
	"encoding/json"
	"testing"
)

func TestParseDate_ValidAndInvalid(t *testing.T) {
	d, err := ParseDate("2025-03-14")
	if err != nil {
		t.Fatalf("unexpected error parsing valid date: %v", err)
	}
	if d.String() != "2025-03-14" {
		t.Fatalf("expected 2025-03-14, got %s", d)
	}

	for _, raw := range []string{"", "2025-3-14", "14/03/2025", "2025-13-01", "not a date"} {
		if _, err := ParseDate(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestDate_JSONRoundTrip(t *testing.T) {
	d := MustDate("2024-12-31")
	payload, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(payload) != `"2024-12-31"` {
		t.Fatalf("unexpected payload %s", payload)
	}

	var back Date
	if err := json.Unmarshal(payload, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !back.Equal(d) {
		t.Fatalf("round trip changed value: %s", back)
	}
}

func TestWindowContains_BoundsAreInclusive(t *testing.T) {
	start := MustDate("2025-01-10")
	end := MustDate("2025-01-20")

	cases := []struct {
		day  string
		want bool
	}{
		{"2025-01-09", false},
		{"2025-01-10", true},
		{"2025-01-15", true},
		{"2025-01-20", true},
		{"2025-01-21", false},
	}
	for _, tc := range cases {
		if got := WindowContains(start, &end, MustDate(tc.day)); got != tc.want {
			t.Fatalf("WindowContains(%s) = %v, want %v", tc.day, got, tc.want)
		}
	}
}

func TestWindowContains_OpenEnd(t *testing.T) {
	start := MustDate("2025-01-10")
	if WindowContains(start, nil, MustDate("2025-01-09")) {
		t.Fatalf("day before start should not be contained")
	}
	if !WindowContains(start, nil, MustDate("2099-12-31")) {
		t.Fatalf("open-ended window should contain any later day")
	}
}

func TestWindowsOverlap(t *testing.T) {
	d := func(s string) Date { return MustDate(s) }
	p := func(s string) *Date {
		v := MustDate(s)
		return &v
	}

	cases := []struct {
		name           string
		aStart, bStart Date
		aEnd, bEnd     *Date
		want           bool
	}{
		{"disjoint", d("2025-01-01"), d("2025-02-01"), p("2025-01-31"), p("2025-02-28"), false},
		{"touching boundary", d("2025-01-01"), d("2025-01-31"), p("2025-01-31"), p("2025-02-28"), true},
		{"nested", d("2025-01-01"), d("2025-01-10"), p("2025-12-31"), p("2025-01-20"), true},
		{"both open ended", d("2025-01-01"), d("2026-01-01"), nil, nil, true},
		{"open vs closed before", d("2025-06-01"), d("2025-01-01"), nil, p("2025-05-31"), false},
		{"open vs closed overlapping", d("2025-06-01"), d("2025-01-01"), nil, p("2025-06-01"), true},
	}
	for _, tc := range cases {
		if got := WindowsOverlap(tc.aStart, tc.aEnd, tc.bStart, tc.bEnd); got != tc.want {
			t.Fatalf("%s: WindowsOverlap = %v, want %v", tc.name, got, tc.want)
		}
		// Overlap is symmetric.
		if got := WindowsOverlap(tc.bStart, tc.bEnd, tc.aStart, tc.aEnd); got != tc.want {
			t.Fatalf("%s (swapped): WindowsOverlap = %v, want %v", tc.name, got, tc.want)
		}
	}
}
