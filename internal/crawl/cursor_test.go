package crawl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCursorNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   Cursor
		want Cursor
	}{
		{"zero cursor", Cursor{}, Cursor{NextPage: 1}},
		{"negative page", Cursor{NextPage: -4}, Cursor{NextPage: 1}},
		{"beyond ceiling", Cursor{NextPage: 999}, Cursor{NextPage: 400}},
		{"in range", Cursor{NextPage: 37}, Cursor{NextPage: 37}},
		{
			"steady state pins to head",
			Cursor{NextPage: 250, BaselineComplete: true},
			Cursor{NextPage: 1, BaselineComplete: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalize(400))
		})
	}
}
