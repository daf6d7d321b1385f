package util

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "recording.m4a", want: "recording.m4a"},
		{in: "dir/rec 1.wav", want: "dir_rec_1.wav"},
		{in: "../etc/passwd", wantErr: true},
		{in: "   ", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		got, err := SanitizeFileName(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("SanitizeFileName(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("SanitizeFileName(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestValidateDeviceID(t *testing.T) {
	for _, ok := range []string{"MOCK-001", "pump_7", "line.3"} {
		if err := ValidateDeviceID(ok); err != nil {
			t.Fatalf("expected %q to be valid: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "a/b", "..", "dev 1", "x?y"} {
		if err := ValidateDeviceID(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "short", in: "timeout", max: 10, want: "timeout"},
		{name: "ascii", in: "abcdef", max: 3, want: "abc"},
		{name: "hangul", in: "분석실패", max: 2, want: "분석"},
		{name: "mixed", in: "x분석", max: 2, want: "x분"},
		{name: "zero", in: "abc", max: 0, want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in, tt.max)
			if got != tt.want {
				t.Fatalf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Fatalf("expected valid UTF-8, got %q", got)
			}
		})
	}

	long := "x" + strings.Repeat("분석", 300)
	if got := Truncate(long, 500); utf8.RuneCountInString(got) != 500 || !utf8.ValidString(got) {
		t.Fatalf("expected 500 valid runes, got %d", utf8.RuneCountInString(got))
	}
}
