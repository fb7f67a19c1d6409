//go:build cgo

package openjpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolutions(t *testing.T) {
	assert.Equal(t, 6, resolutions(2000, 3000))
	assert.Equal(t, 6, resolutions(32, 32))
	assert.Equal(t, 5, resolutions(31, 500))
	assert.Equal(t, 1, resolutions(1, 1))
}
