package rencontre

import (
	"github.com/stretchr/testify/assert"
	"testing"
	"time"
)

func newTestCooldowns(t testing.TB) (*interactionCooldowns, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	c := newInteractionCooldowns()
	c.now = clock.Now
	return c, clock
}

func TestInteractionCooldowns_Allow(t *testing.T) {
	c, clock := newTestCooldowns(t)
	cooldown := 10 * time.Minute

	assert.True(t, c.Allow(cooldownLike, "1", "2", cooldown))
	assert.False(t, c.Allow(cooldownLike, "1", "2", cooldown))

	// pairs and kinds are independent
	assert.True(t, c.Allow(cooldownLike, "1", "3", cooldown))
	assert.True(t, c.Allow(cooldownLike, "2", "1", cooldown))
	assert.True(t, c.Allow(cooldownContact, "1", "2", cooldown))

	clock.Advance(4 * time.Minute)
	assert.False(t, c.Allow(cooldownLike, "1", "2", cooldown))
	assert.InDelta(
		t,
		float64(6*time.Minute),
		float64(c.Remaining(cooldownLike, "1", "2")),
		float64(time.Second),
	)

	// a denied attempt doesn't push back the next one
	clock.Advance(6*time.Minute + time.Second)
	assert.True(t, c.Allow(cooldownLike, "1", "2", cooldown))
}

func TestInteractionCooldowns_Disabled(t *testing.T) {
	c, _ := newTestCooldowns(t)
	for i := 0; i < 3; i++ {
		assert.True(t, c.Allow(cooldownLike, "1", "2", 0))
	}
	assert.Equal(t, 0, c.Len())
}

func TestInteractionCooldowns_Remaining(t *testing.T) {
	c, _ := newTestCooldowns(t)
	assert.Zero(t, c.Remaining(cooldownContact, "1", "2"))

	assert.True(t, c.Allow(cooldownContact, "1", "2", 15*time.Minute))
	first := c.Remaining(cooldownContact, "1", "2")
	assert.InDelta(t, float64(15*time.Minute), float64(first), float64(time.Second))

	// checking doesn't consume anything
	assert.InDelta(
		t,
		float64(first),
		float64(c.Remaining(cooldownContact, "1", "2")),
		float64(time.Second),
	)
}

func TestInteractionCooldowns_ShorterCooldownApplies(t *testing.T) {
	c, clock := newTestCooldowns(t)
	assert.True(t, c.Allow(cooldownLike, "1", "2", time.Hour))

	// the elapsed time still counts at the old rate
	clock.Advance(2 * time.Minute)
	assert.False(t, c.Allow(cooldownLike, "1", "2", time.Minute))
	clock.Advance(time.Minute)
	assert.True(t, c.Allow(cooldownLike, "1", "2", time.Minute))
}

func TestInteractionCooldowns_ForgetUser(t *testing.T) {
	c, _ := newTestCooldowns(t)
	c.Allow(cooldownLike, "1", "2", time.Hour)
	c.Allow(cooldownContact, "3", "1", time.Hour)
	c.Allow(cooldownLike, "3", "2", time.Hour)
	assert.Equal(t, 3, c.Len())

	c.forgetUser("1")
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Allow(cooldownLike, "1", "2", time.Hour))
}

func TestInteractionCooldowns_Prune(t *testing.T) {
	c, clock := newTestCooldowns(t)
	c.Allow(cooldownLike, "1", "2", time.Minute)
	c.Allow(cooldownLike, "1", "3", time.Hour)

	assert.Equal(t, 0, c.prune())
	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, c.prune())
	assert.Equal(t, 1, c.Len())
	assert.False(t, c.Allow(cooldownLike, "1", "3", time.Hour))
}
