package utils

import "testing"

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short", "capital of France", 40, "capital of France"},
		{"cut", "hello world", 5, "hello..."},
		{"trailing space trimmed", "hello world", 6, "hello..."},
		{"multibyte kept whole", "Ünïcödé tëxt", 4, "Ünïc..."},
		{"cjk", "北京是中国的首都", 2, "北京..."},
		{"newlines collapse", "line one\n\n  line two", 0, "line one line two"},
		{"exact length", "abc", 3, "abc"},
		{"empty", "", 5, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.in, tt.max); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}
