package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidEnum(t *testing.T) {
	values := []string{"spam", "other"}
	assert.True(t, IsValidEnum("spam", values))
	assert.True(t, IsValidEnum("", values))
	assert.False(t, IsValidEnum("ham", values))
}
