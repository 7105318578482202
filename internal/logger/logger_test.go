package logger

import "testing"

func TestTruncateForLog(t *testing.T) {
	cases := []struct {
		in    string
		limit int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly-10", 10, "exactly-10"},
		{"this is a longer string", 7, "this is..."},
		{"  padded  ", 10, "padded"},
		{"anything", 0, ""},
		{"héllo wörld", 5, "héllo..."},
	}

	for _, tc := range cases {
		if got := TruncateForLog(tc.in, tc.limit); got != tc.want {
			t.Fatalf("TruncateForLog(%q, %d) = %q, want %q", tc.in, tc.limit, got, tc.want)
		}
	}
}

func TestNewBuildsBothEncodings(t *testing.T) {
	for _, json := range []bool{true, false} {
		logger, err := New(json, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if logger == nil {
			t.Fatalf("expected a logger")
		}
		if !logger.Core().Enabled(-1) {
			t.Fatalf("expected debug level to be enabled")
		}
	}
}
