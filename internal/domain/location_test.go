package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLocation(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Mumbai", "mumbai"},
		{"  New Delhi ", "new_delhi"},
		{"new_delhi", "new_delhi"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeLocation(tt.in))
		})
	}
}

func TestDisplayLocation(t *testing.T) {
	assert.Equal(t, "New Delhi", DisplayLocation("new_delhi"))
	assert.Equal(t, "Mumbai", DisplayLocation("mumbai"))
	assert.Equal(t, "", DisplayLocation(""))
}
