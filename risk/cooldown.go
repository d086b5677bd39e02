package risk

import (
	"time"
)

// Cooldown spaces out trade attempts. Armed after every attempt, success
// or failure; a venue rate limit extends the spacing sharply. Only the
// tick loop touches it, so no locking.
type Cooldown struct {
	normal    time.Duration
	rateLimit time.Duration
	until     time.Time
}

// NewCooldown creates a cooldown with normal and rate-limited spacing
func NewCooldown(normal, rateLimit time.Duration) *Cooldown {
	return &Cooldown{normal: normal, rateLimit: rateLimit}
}

// Ready reports whether a new attempt is allowed
func (c *Cooldown) Ready(now time.Time) bool {
	return !now.Before(c.until)
}

// Arm starts the normal cooldown
func (c *Cooldown) Arm(now time.Time) {
	c.until = now.Add(c.normal)
}

// ArmRateLimited starts the extended cooldown
func (c *Cooldown) ArmRateLimited(now time.Time) {
	c.until = now.Add(c.rateLimit)
}

// Remaining returns how long until the next attempt may run
func (c *Cooldown) Remaining(now time.Time) time.Duration {
	if c.Ready(now) {
		return 0
	}
	return c.until.Sub(now)
}
