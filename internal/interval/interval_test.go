package interval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(h, m int) time.Time { return time.Date(2025, 5, 24, h, m, 0, 0, time.UTC) }

func TestOverlaps(t *testing.T) {
	cases := []struct {
		name       string
		a0, a1     time.Time
		b0, b1     time.Time
		wantResult bool
	}{
		{"inside", at(9, 0), at(10, 0), at(8, 0), at(12, 0), true},
		{"partial left", at(7, 0), at(9, 0), at(8, 0), at(12, 0), true},
		{"partial right", at(11, 0), at(13, 0), at(8, 0), at(12, 0), true},
		{"touching end", at(12, 0), at(13, 0), at(8, 0), at(12, 0), false},
		{"touching start", at(7, 0), at(8, 0), at(8, 0), at(12, 0), false},
		{"disjoint", at(13, 0), at(14, 0), at(8, 0), at(12, 0), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wantResult, Overlaps(tc.a0, tc.a1, tc.b0, tc.b1))
			assert.Equal(t, tc.wantResult, Overlaps(tc.b0, tc.b1, tc.a0, tc.a1), "overlap must be symmetric")
		})
	}
}

func TestCovers(t *testing.T) {
	assert.True(t, Covers(at(8, 0), at(12, 0), at(9, 0), at(10, 0)))
	assert.True(t, Covers(at(8, 0), at(12, 0), at(8, 0), at(12, 0)))
	assert.False(t, Covers(at(8, 0), at(12, 0), at(11, 30), at(12, 30)))
	assert.False(t, Covers(at(8, 0), at(12, 0), at(13, 0), at(14, 0)))
}
