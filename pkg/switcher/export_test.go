package switcher

import "context"

// CheckLeaseExpiry runs a single expiry check, the way one ticker firing
// of RunExpiryLoop would.
func (c *Controller) CheckLeaseExpiry(ctx context.Context) {
	c.checkLeaseExpiry(ctx)
}
