package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tendant/mangashelf/pkg/mangashelf"
)

// ErrInvalidCredentials is returned by Authenticate for unknown users and
// wrong passwords alike
var ErrInvalidCredentials = errors.New("invalid credentials")

const minPasswordLength = 8

// HashPassword hashes a password with bcrypt
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", mangashelf.Invalid("password must have at least %d characters", minPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// NewUserInput carries the fields needed to create an account
type NewUserInput struct {
	Username string          `json:"username"`
	Email    string          `json:"email,omitempty"`
	Password string          `json:"password"`
	Role     mangashelf.Role `json:"role,omitempty"`
}

func (in NewUserInput) validate() error {
	if strings.TrimSpace(in.Username) == "" {
		return mangashelf.Invalid("username is required")
	}
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		return mangashelf.Invalid("invalid email %q", in.Email)
	}
	switch in.Role {
	case mangashelf.RoleAdmin, mangashelf.RoleUploader, mangashelf.RoleUser:
	default:
		return mangashelf.Invalid("unknown role %q", in.Role)
	}
	return nil
}

// CreateUser creates an account with any role. The caller needs create on
// the user class ACL.
func (c *Catalog) CreateUser(ctx context.Context, caller mangashelf.Caller, in NewUserInput) (*mangashelf.User, error) {
	if err := caller.Check(mangashelf.ActionCreate, mangashelf.UserACL); err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = mangashelf.RoleUser
	}
	return c.createUser(ctx, in)
}

// RegisterUser creates a plain user account for anyone allowed to register
func (c *Catalog) RegisterUser(ctx context.Context, caller mangashelf.Caller, in NewUserInput) (*mangashelf.User, error) {
	if err := caller.Check(mangashelf.ActionRegister, mangashelf.UserACL); err != nil {
		return nil, err
	}
	in.Role = mangashelf.RoleUser
	return c.createUser(ctx, in)
}

// BootstrapUser creates an account without a permission check. It backs
// the create-admin command.
func (c *Catalog) BootstrapUser(ctx context.Context, in NewUserInput) (*mangashelf.User, error) {
	if in.Role == "" {
		in.Role = mangashelf.RoleAdmin
	}
	return c.createUser(ctx, in)
}

func (c *Catalog) createUser(ctx context.Context, in NewUserInput) (*mangashelf.User, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if err := c.ensureUnique(ctx, in.Username, in.Email, uuid.Nil); err != nil {
		return nil, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := &mangashelf.User{
		Role:           in.Role,
		Username:       strings.TrimSpace(in.Username),
		Email:          in.Email,
		HashedPassword: hash,
	}
	if err := c.Users.Save(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (c *Catalog) ensureUnique(ctx context.Context, username, email string, ignore uuid.UUID) error {
	for _, q := range []mangashelf.Query{
		mangashelf.Where("username", username),
		mangashelf.Where("email", email),
	} {
		if q[0].Value == "" {
			continue
		}
		if ignore != uuid.Nil {
			q = q.Not("id", ignore.String())
		}
		found, err := c.Users.FetchAll(ctx, q, 1)
		if err != nil {
			return err
		}
		if len(found) > 0 {
			return mangashelf.Invalid("%s already in use", q[0].Field)
		}
	}
	return nil
}

// FindUserByLogin looks a user up by username, then by email
func (c *Catalog) FindUserByLogin(ctx context.Context, login string) (*mangashelf.User, error) {
	for _, field := range []string{"username", "email"} {
		found, err := c.Users.FetchAll(ctx, mangashelf.Where(field, login), 1)
		if err != nil {
			return nil, err
		}
		if len(found) > 0 {
			return found[0], nil
		}
	}
	return nil, &mangashelf.NotFoundError{Kind: mangashelf.CollectionUser, ID: login}
}

// Authenticate checks a login and password
func (c *Catalog) Authenticate(ctx context.Context, login, password string) (*mangashelf.User, error) {
	u, err := c.FindUserByLogin(ctx, login)
	if errors.Is(err, mangashelf.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.HashedPassword), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// GetUser returns a user the caller may view
func (c *Catalog) GetUser(ctx context.Context, caller mangashelf.Caller, id uuid.UUID) (*mangashelf.User, error) {
	u, err := c.Users.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := caller.Check(mangashelf.ActionView, u); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateUserInput carries editable account fields. Empty fields are kept.
type UpdateUserInput struct {
	Username string          `json:"username,omitempty"`
	Email    string          `json:"email,omitempty"`
	Password string          `json:"password,omitempty"`
	Role     mangashelf.Role `json:"role,omitempty"`
}

// UpdateUser edits an account. Only admins may change roles.
func (c *Catalog) UpdateUser(ctx context.Context, caller mangashelf.Caller, id uuid.UUID, in UpdateUserInput) (*mangashelf.User, error) {
	u, err := c.Users.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := caller.Check(mangashelf.ActionEdit, u); err != nil {
		return nil, err
	}
	if in.Role != "" && in.Role != u.Role {
		if err := caller.Check(mangashelf.ActionEdit, mangashelf.UserACL); err != nil {
			return nil, err
		}
		u.Role = in.Role
	}
	if err := c.ensureUnique(ctx, in.Username, in.Email, u.ID); err != nil {
		return nil, err
	}
	if in.Username != "" {
		u.Username = strings.TrimSpace(in.Username)
	}
	if in.Email != "" {
		u.Email = in.Email
	}
	if in.Password != "" {
		hash, err := HashPassword(in.Password)
		if err != nil {
			return nil, err
		}
		u.HashedPassword = hash
	}
	if err := (NewUserInput{Username: u.Username, Email: u.Email, Role: u.Role}).validate(); err != nil {
		return nil, err
	}
	if err := c.Users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// DeleteUser removes an account. Callers cannot delete themselves.
func (c *Catalog) DeleteUser(ctx context.Context, caller mangashelf.Caller, id uuid.UUID) error {
	u, err := c.Users.Find(ctx, id)
	if err != nil {
		return err
	}
	if err := caller.Check(mangashelf.ActionEdit, u); err != nil {
		return err
	}
	if caller.UserID == id {
		return mangashelf.Invalid("you can't delete your own user")
	}
	return c.Users.Delete(ctx, id)
}

// SearchUsers lists users whose username contains name, optionally with a
// given role, ordered by username
func (c *Catalog) SearchUsers(ctx context.Context, name string, role mangashelf.Role, req mangashelf.PageRequest) (*mangashelf.PageResult[*mangashelf.User], error) {
	req, err := c.pageRequest(req)
	if err != nil {
		return nil, err
	}
	var q mangashelf.Query
	if role != "" {
		q = q.And("role", string(role))
	}
	if name != "" {
		q = q.Contains("username", name)
	}
	return c.Users.Paginate(ctx, q, req, mangashelf.ByKey(func(u *mangashelf.User) string { return u.Username }), false)
}
