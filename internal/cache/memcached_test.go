package cache

import "testing"

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"forecast-London", "forecast-London"},
		{"forecast-New York", "forecast-New_York"},
		{"forecast-Rio de Janeiro", "forecast-Rio_de_Janeiro"},
	}

	for _, tc := range tests {
		if got := sanitizeKey(tc.in); got != tc.want {
			t.Errorf("sanitizeKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseAddrs(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"localhost:11211", 1},
		{"host1:11211,host2:11211", 2},
		{" host1:11211 , host2:11211 ", 2},
		{"", 0},
		{" , ", 0},
	}

	for _, tc := range tests {
		if got := parseAddrs(tc.in); len(got) != tc.want {
			t.Errorf("parseAddrs(%q) = %v, want %d entries", tc.in, got, tc.want)
		}
	}
}
