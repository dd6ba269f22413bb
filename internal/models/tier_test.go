package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierOf(t *testing.T) {
	assert.Equal(t, TierSenior, TierOf("Senior"))
	assert.Equal(t, TierPWD, TierOf(" pwd "))
	assert.Equal(t, TierRegular, TierOf("student"))
	assert.Equal(t, TierRegular, TierOf(""))
}

func TestTierValidAndLabel(t *testing.T) {
	assert.True(t, TierSenior.Valid())
	assert.True(t, TierRegular.Valid())
	assert.False(t, Tier(0).Valid())
	assert.False(t, Tier(4).Valid())

	assert.Equal(t, "Senior Citizen", TierSenior.Label())
	assert.Equal(t, "PWD", TierPWD.Label())
	assert.Equal(t, "Regular", TierRegular.Label())
}
