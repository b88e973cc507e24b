package gateway

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestAdmitWithinLimit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewRateLimiter(clock, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, r.Admit("c1"), "message %d should be admitted", i)
	}
	assert.False(t, r.Admit("c1"), "message past the limit must be dropped")
}

func TestWindowRolloverResetsCounter(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewRateLimiter(clock, 2)

	assert.True(t, r.Admit("c1"))
	assert.True(t, r.Admit("c1"))
	assert.False(t, r.Admit("c1"))

	clock.Advance(time.Second)
	assert.True(t, r.Admit("c1"))
}

func TestLimitIsPerConnection(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewRateLimiter(clock, 1)

	assert.True(t, r.Admit("abusive"))
	assert.False(t, r.Admit("abusive"))

	// One abusive connection must not degrade others.
	assert.True(t, r.Admit("polite"))
}

func TestForgetClearsWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := NewRateLimiter(clock, 1)

	assert.True(t, r.Admit("c1"))
	assert.False(t, r.Admit("c1"))

	r.Forget("c1")
	assert.True(t, r.Admit("c1"))
}
