package util

import "testing"

func TestParseSize(t *testing.T) {
	tests := []struct {
		in       string
		expected int64
	}{
		{"10MB", 10 * 1024 * 1024},
		{"512KB", 512 * 1024},
		{"1024B", 1024},
		{"1GB", 1024 * 1024 * 1024},
		{"2048", 2048},
	}

	for _, tc := range tests {
		got, err := ParseSize(tc.in)
		if err != nil {
			t.Fatalf("ParseSize(%q) returned error: %v", tc.in, err)
		}
		if got != tc.expected {
			t.Errorf("ParseSize(%q) = %d, expected %d", tc.in, got, tc.expected)
		}
	}
}

func TestParseSizeInvalid(t *testing.T) {
	if _, err := ParseSize(""); err == nil {
		t.Error("expected error for empty size")
	}
	if _, err := ParseSize("-5MB"); err == nil {
		t.Error("expected error for negative size")
	}
	if _, err := ParseSize("notasize"); err == nil {
		t.Error("expected error for non-numeric size")
	}
}
