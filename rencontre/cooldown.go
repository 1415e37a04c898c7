package rencontre

import (
	"golang.org/x/time/rate"
	"sync"
	"time"
)

type cooldownKind string

const (
	cooldownLike    cooldownKind = "like"
	cooldownContact cooldownKind = "contact"
)

type cooldownKey struct {
	kind     cooldownKind
	fromUser string
	toUser   string
}

// interactionCooldowns limits likes and contact requests per
// (user, profile owner) pair. Each pair gets a single-token limiter
// refilled once per cooldown, so a denied attempt doesn't push back the
// next allowed one.
type interactionCooldowns struct {
	mu       sync.Mutex
	limiters map[cooldownKey]*rate.Limiter
	now      func() time.Time
}

func newInteractionCooldowns() *interactionCooldowns {
	return &interactionCooldowns{
		limiters: make(map[cooldownKey]*rate.Limiter),
		now:      time.Now,
	}
}

// Allow reports whether fromUser may act on toUser's profile, and
// consumes the pair's token if so. A changed cooldown applies to
// existing pairs from now on.
func (c *interactionCooldowns) Allow(
	kind cooldownKind,
	fromUser string,
	toUser string,
	cooldown time.Duration,
) bool {
	if cooldown <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	limit := rate.Every(cooldown)
	key := cooldownKey{kind: kind, fromUser: fromUser, toUser: toUser}
	limiter, ok := c.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(limit, 1)
		c.limiters[key] = limiter
	} else if limiter.Limit() != limit {
		limiter.SetLimitAt(now, limit)
	}
	return limiter.AllowN(now, 1)
}

// Remaining returns how long until fromUser may act again
func (c *interactionCooldowns) Remaining(
	kind cooldownKind,
	fromUser string,
	toUser string,
) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	limiter, ok := c.limiters[cooldownKey{kind: kind, fromUser: fromUser, toUser: toUser}]
	if !ok {
		return 0
	}
	now := c.now()
	r := limiter.ReserveN(now, 1)
	defer r.CancelAt(now)
	return r.DelayFrom(now)
}

// forgetUser drops every limiter involving the user, ex: when their
// profile is deleted
func (c *interactionCooldowns) forgetUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.limiters {
		if key.fromUser == userID || key.toUser == userID {
			delete(c.limiters, key)
		}
	}
}

// prune drops limiters whose token has refilled, as they'd allow the
// next attempt anyway. It returns the number removed.
func (c *interactionCooldowns) prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var removed int
	for key, limiter := range c.limiters {
		if limiter.TokensAt(now) >= 1 {
			delete(c.limiters, key)
			removed++
		}
	}
	return removed
}

func (c *interactionCooldowns) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.limiters)
}
