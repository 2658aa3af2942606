package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoKeysAllowsEverything(t *testing.T) {
	a := NewAPIKeyAuth(nil)

	assert.False(t, a.Enabled())
	assert.True(t, a.IsValidKey(""))
	assert.True(t, a.IsValidKey("anything"))
}

func TestConfiguredKeys(t *testing.T) {
	a := NewAPIKeyAuth([]string{"alpha", "", "beta"})

	assert.True(t, a.Enabled())
	assert.True(t, a.IsValidKey("alpha"))
	assert.True(t, a.IsValidKey("beta"))
	assert.False(t, a.IsValidKey(""))
	assert.False(t, a.IsValidKey("alph"))

	a.RemoveKey("alpha")
	assert.False(t, a.IsValidKey("alpha"))

	a.AddKey("gamma")
	assert.True(t, a.IsValidKey("gamma"))
}
