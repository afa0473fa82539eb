// Package acl implements row level permissions.
//
// A resource exposes an ordered access control list. Entries are evaluated
// top to bottom and the first entry whose principals are all held by the
// caller and whose actions include the requested one decides the outcome.
// When nothing matches, access is denied.
package acl

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

var (
	// ErrPermissionDenied is returned when an identified caller is denied
	ErrPermissionDenied = errors.New("insufficient permissions")

	// ErrUnauthenticated is returned when an anonymous caller is denied
	ErrUnauthenticated = errors.New("not authenticated")
)

// Effect is the outcome of a matching entry.
type Effect string

const (
	Allow Effect = "Allow"
	Deny  Effect = "Deny"
)

// Well-known principals.
const (
	Everyone      = "system:everyone"
	Authenticated = "system:authenticated"
)

// AllActions matches any requested action.
const AllActions = "permissions:*"

// Entry is a single access control entry.
type Entry struct {
	Effect     Effect
	Principals []string
	Actions    []string
}

// Matches reports whether the entry applies to the caller and the action.
func (e Entry) Matches(principals Principals, action string) bool {
	return e.coversAction(action) && principals.HasAll(e.Principals)
}

func (e Entry) coversAction(action string) bool {
	for _, a := range e.Actions {
		if a == action || a == AllActions {
			return true
		}
	}
	return false
}

// List is an ordered access control list.
type List []Entry

// ResolveACL makes a plain list usable as a resource.
func (l List) ResolveACL() List {
	return l
}

// Resource is anything that exposes an access control list.
type Resource interface {
	ResolveACL() List
}

var (
	// Empty is a list without entries. It denies every action because
	// nothing can match.
	Empty = List{}

	// DenyAll explicitly denies everyone every action.
	DenyAll = Entry{Effect: Deny, Principals: []string{Everyone}, Actions: []string{AllActions}}

	// AllowAll explicitly allows everyone every action.
	AllowAll = Entry{Effect: Allow, Principals: []string{Everyone}, Actions: []string{AllActions}}
)

// Principals is the set of tags held by a caller.
type Principals map[string]struct{}

// NewPrincipals builds a principal set.
func NewPrincipals(tags ...string) Principals {
	p := make(Principals, len(tags))
	for _, t := range tags {
		p[t] = struct{}{}
	}
	return p
}

// Anonymous returns the principals of a caller without identity.
func Anonymous() Principals {
	return NewPrincipals(Everyone)
}

// ForUser returns the principals of an authenticated user holding role.
func ForUser(id uuid.UUID, role string) Principals {
	p := NewPrincipals(Everyone, Authenticated, UserPrincipal(id))
	if role != "" {
		p[RolePrincipal(role)] = struct{}{}
	}
	return p
}

// UserPrincipal is the principal identifying a single user.
func UserPrincipal(id uuid.UUID) string {
	return fmt.Sprintf("user:%s", id)
}

// RolePrincipal is the principal shared by every holder of role.
func RolePrincipal(role string) string {
	return "role:" + role
}

// Has reports whether the set contains tag.
func (p Principals) Has(tag string) bool {
	_, ok := p[tag]
	return ok
}

// HasAll reports whether every tag is in the set.
func (p Principals) HasAll(tags []string) bool {
	for _, t := range tags {
		if !p.Has(t) {
			return false
		}
	}
	return true
}

// Sorted returns the tags in lexical order.
func (p Principals) Sorted() []string {
	out := make([]string, 0, len(p))
	for t := range p {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func resolve(r Resource) List {
	if r == nil {
		return Empty
	}
	if l := r.ResolveACL(); l != nil {
		return l
	}
	return Empty
}

// Authorize reports whether principals may perform action on r.
func Authorize(principals Principals, action string, r Resource) bool {
	for _, e := range resolve(r) {
		if e.Matches(principals, action) {
			return e.Effect == Allow
		}
	}
	return false
}

// ListPermissions evaluates every action named in the list of r.
func ListPermissions(principals Principals, r Resource) map[string]bool {
	l := resolve(r)
	out := make(map[string]bool)
	for _, e := range l {
		for _, a := range e.Actions {
			if _, seen := out[a]; seen {
				continue
			}
			out[a] = Authorize(principals, a, l)
		}
	}
	return out
}

// Check is Authorize returning an error suited for callers: anonymous callers
// get ErrUnauthenticated, identified callers ErrPermissionDenied.
func Check(principals Principals, action string, r Resource) error {
	if Authorize(principals, action, r) {
		return nil
	}
	if !principals.Has(Authenticated) {
		return ErrUnauthenticated
	}
	return ErrPermissionDenied
}

// Compose concatenates lists in order. Earlier lists take precedence.
func Compose(lists ...List) List {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	out := make(List, 0, n)
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
