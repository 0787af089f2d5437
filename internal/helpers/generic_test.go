package helpers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandomToken(t *testing.T) {
	assert := assert.New(t)

	token, err := RandomToken(32)
	assert.NoError(err)
	assert.Len(token, 32)

	for _, r := range token {
		assert.True(strings.ContainsRune(tokenAlphabet, r))
	}

	other, err := RandomToken(32)
	assert.NoError(err)
	assert.NotEqual(token, other)

	long, err := RandomToken(512)
	assert.NoError(err)
	assert.Len(long, 512)

	_, err = RandomToken(0)
	assert.Error(err)

	_, err = RandomToken(-1)
	assert.Error(err)
}
