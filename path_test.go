package xar

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain member", "d/f1", "d/f1"},
		{"leading slash", "/d/f1", "d/f1"},
		{"trailing slash", "d/", "d"},
		{"both ends", "/d/f1/", "d/f1"},
		{"empty", "", "."},
		{"only slashes", "///", "."},
		{"dot", ".", "."},
		{"internal double slashes", "d//f1", "d/f1"},
		{"mixed", "//d///sub//f//", "d/sub/f"},
		// Dot segments survive and never match a recorded member.
		{"dotdot kept", "d/../g", "d/../g"},
		{"dot kept", "./g", "./g"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizePath(tt.input))
		})
	}
}
