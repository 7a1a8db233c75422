package auth

import (
	"nodesentinel/internal/faults"
)

// Decision is the outcome of a privileged request.
type Decision struct {
	Allowed bool
	Caller  int64
}

// Err returns an authorization failure for a denied decision, nil otherwise.
func (d Decision) Err(action string) error {
	if d.Allowed {
		return nil
	}
	return faults.Authorization(action, d.Caller)
}

// Trusted admits exactly one operator identity.
type Trusted struct {
	ID int64
}

// Authorize allows caller iff it is the configured operator. A zero ID
// trusts nobody.
func (t Trusted) Authorize(caller int64) Decision {
	return Decision{Allowed: t.ID != 0 && caller == t.ID, Caller: caller}
}
