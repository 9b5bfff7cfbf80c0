package workerrpc

import (
	"errors"
	"testing"
)

func TestIsNotInitialized(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"exact match", errors.New("worker not initialized"), true},
		{"wrapped", errors.New("call /interrupt: worker not initialized"), true},
		{"unrelated", errors.New("connection refused"), false},
	}

	for _, tc := range cases {
		if got := IsNotInitialized(tc.err); got != tc.want {
			t.Errorf("%s: IsNotInitialized() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
