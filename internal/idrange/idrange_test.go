package idrange

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Ranges
	}{
		{
			name: "mixed tokens",
			text: "2-6 8 38-52 80-",
			want: Ranges{{From: 2, To: 6}, {From: 8, To: 8}, {From: 38, To: 52}, {From: 80}},
		},
		{
			name: "open start",
			text: "-10",
			want: Ranges{{To: 10}},
		},
		{
			name: "discarded tokens",
			text: "-- 1-2-3 - abc",
			want: nil,
		},
		{
			name: "empty",
			text: "",
			want: nil,
		},
		{
			name: "reversed bounds are swapped",
			text: "9-4",
			want: Ranges{{From: 4, To: 9}},
		},
		{
			name: "zero upper bound is a bound",
			text: "5-0 -0 0-0 00",
			want: Ranges{{To: 5}},
		},
		{
			name: "noise is cleaned",
			text: "#12, 14-16;",
			want: Ranges{{From: 12, To: 12}, {From: 14, To: 16}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.text))
		})
	}
}

func TestRangesContains(t *testing.T) {
	rs := Parse("2-6 8 38-52 80-")

	for _, id := range []int{2, 3, 4, 5, 6, 8, 38, 45, 52, 80, 81, 10000} {
		assert.True(t, rs.Contains(id), "id %d should match", id)
	}
	for _, id := range []int{1, 7, 9, 37, 53, 79} {
		assert.False(t, rs.Contains(id), "id %d should not match", id)
	}
}

func TestEmptyRangesMatchEverything(t *testing.T) {
	var rs Ranges
	assert.True(t, rs.Contains(1))
	assert.True(t, rs.Contains(99999))
}

func TestRangesString(t *testing.T) {
	assert.Equal(t, "2-6 8 80- -3", Ranges{{2, 6}, {8, 8}, {From: 80}, {To: 3}}.String())
}

func TestZeroUpperBound(t *testing.T) {
	rs := Parse("3 -0")
	assert.True(t, rs.Contains(3))
	assert.False(t, rs.Contains(4))

	rs = Parse("5-0")
	assert.Equal(t, "-5", rs.String())
	assert.True(t, rs.Contains(5))
	assert.False(t, rs.Contains(6))
}
