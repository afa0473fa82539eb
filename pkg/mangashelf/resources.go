package mangashelf

import (
	"github.com/google/uuid"

	"github.com/tendant/mangashelf/pkg/mangashelf/acl"
)

// Actions checked against resource ACLs.
const (
	ActionView     = "view"
	ActionCreate   = "create"
	ActionEdit     = "edit"
	ActionRegister = "register"
)

var (
	roleAdmin    = acl.RolePrincipal(string(RoleAdmin))
	roleUploader = acl.RolePrincipal(string(RoleUploader))
)

func allow(principals []string, actions ...string) acl.Entry {
	return acl.Entry{Effect: acl.Allow, Principals: principals, Actions: actions}
}

// Class level ACLs. Instance lists append their entries after these.
var (
	MangaACL = acl.List{
		allow([]string{acl.Everyone}, ActionView),
		allow([]string{roleAdmin}, ActionCreate, ActionEdit),
		allow([]string{roleUploader}, ActionCreate, ActionEdit),
	}

	ChapterACL = acl.List{
		allow([]string{acl.Everyone}, ActionView),
		allow([]string{roleAdmin}, ActionEdit),
	}

	CommentACL = acl.List{
		allow([]string{acl.Everyone}, ActionView),
		allow([]string{acl.Authenticated}, ActionCreate),
		allow([]string{roleUploader}, ActionEdit),
		allow([]string{roleAdmin}, ActionEdit),
	}

	UserACL = acl.List{
		allow([]string{acl.Everyone}, ActionRegister),
		allow([]string{roleAdmin}, ActionCreate, ActionView, ActionEdit),
	}

	UploadSessionACL = acl.List{
		allow([]string{roleAdmin}, ActionCreate),
		allow([]string{roleUploader}, ActionCreate),
		allow([]string{roleAdmin}, ActionView, ActionEdit),
	}

	SettingsACL = acl.List{
		allow([]string{acl.Everyone}, ActionView),
		allow([]string{roleAdmin}, ActionEdit),
	}
)

func ownerEntries(owner *uuid.UUID, actions ...string) acl.List {
	if owner == nil {
		return nil
	}
	return acl.List{allow([]string{roleUploader, acl.UserPrincipal(*owner)}, actions...)}
}

func (m *Manga) ResolveACL() acl.List {
	return MangaACL
}

func (c *Chapter) ResolveACL() acl.List {
	return acl.Compose(ChapterACL, ownerEntries(c.OwnerID, ActionEdit))
}

func (c *Comment) ResolveACL() acl.List {
	return acl.Compose(CommentACL, acl.List{
		allow([]string{acl.UserPrincipal(c.AuthorID)}, ActionEdit),
	})
}

func (u *User) ResolveACL() acl.List {
	return acl.Compose(UserACL, acl.List{
		allow([]string{acl.UserPrincipal(u.ID)}, ActionView, ActionEdit),
	})
}

// Principals returns the principal set held by the user.
func (u *User) Principals() acl.Principals {
	return acl.ForUser(u.ID, string(u.Role))
}

func (s *Settings) ResolveACL() acl.List {
	return SettingsACL
}

func (s *UploadSession) ResolveACL() acl.List {
	return acl.Compose(UploadSessionACL, ownerEntries(s.OwnerID, ActionView, ActionEdit))
}
