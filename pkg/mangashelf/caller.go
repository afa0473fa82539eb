package mangashelf

import (
	"github.com/google/uuid"

	"github.com/tendant/mangashelf/pkg/mangashelf/acl"
)

// Caller is the identity a request acts with. UserID is uuid.Nil for
// anonymous callers.
type Caller struct {
	UserID     uuid.UUID
	Principals acl.Principals
}

// Anonymous returns a caller holding only system:everyone.
func Anonymous() Caller {
	return Caller{Principals: acl.Anonymous()}
}

// NewCaller returns the caller for an authenticated user with the given role.
func NewCaller(userID uuid.UUID, role Role) Caller {
	return Caller{UserID: userID, Principals: acl.ForUser(userID, string(role))}
}

// Authenticated reports whether the caller has an identity.
func (c Caller) Authenticated() bool {
	return c.Principals.Has(acl.Authenticated)
}

// Can reports whether the caller may perform action on r.
func (c Caller) Can(action string, r acl.Resource) bool {
	return acl.Authorize(c.Principals, action, r)
}

// Check is Can returning ErrUnauthenticated or ErrPermissionDenied.
func (c Caller) Check(action string, r acl.Resource) error {
	return acl.Check(c.Principals, action, r)
}

// Owner returns the user id to record as owner, nil for anonymous callers.
func (c Caller) Owner() *uuid.UUID {
	if c.UserID == uuid.Nil {
		return nil
	}
	id := c.UserID
	return &id
}
