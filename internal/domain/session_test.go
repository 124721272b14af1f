package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanName(t *testing.T) {
	assert.Equal(t, "Ann", CleanName("Ann"))
	assert.Equal(t, "", CleanName(""))

	long := strings.Repeat("x", MaxNameLen+10)
	assert.Len(t, CleanName(long), MaxNameLen)
}

func TestNewIDsAreUnique(t *testing.T) {
	assert.NotEqual(t, NewSessionID(), NewSessionID())
	assert.NotEqual(t, NewClientID(), NewClientID())
}
