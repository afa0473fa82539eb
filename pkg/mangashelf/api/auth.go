package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/mangashelf/pkg/mangashelf"
)

type contextKey string

const callerKey contextKey = "caller"

// DefaultTokenTTL is the lifetime of tokens issued by Login
const DefaultTokenTTL = 24 * time.Hour

// NewTokenAuth creates an HMAC token verifier and issuer
func NewTokenAuth(algorithm, secret string) *jwtauth.JWTAuth {
	return jwtauth.New(algorithm, []byte(secret), nil)
}

// IssueToken signs a token carrying the user id as subject and the role
func IssueToken(auth *jwtauth.JWTAuth, user *mangashelf.User, ttl time.Duration) (string, error) {
	claims := map[string]interface{}{
		"sub":  user.ID.String(),
		"role": string(user.Role),
	}
	jwtauth.SetIssuedNow(claims)
	jwtauth.SetExpiryIn(claims, ttl)
	_, token, err := auth.Encode(claims)
	return token, err
}

// PrincipalMiddleware resolves the caller from a verified token. Requests
// without a valid token proceed as anonymous.
func PrincipalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := mangashelf.Anonymous()
		if token, claims, err := jwtauth.FromContext(r.Context()); err == nil && token != nil {
			if c, ok := callerFromClaims(claims); ok {
				caller = c
			}
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func callerFromClaims(claims map[string]interface{}) (mangashelf.Caller, bool) {
	sub, _ := claims["sub"].(string)
	id, err := uuid.Parse(sub)
	if err != nil || id == uuid.Nil {
		return mangashelf.Caller{}, false
	}
	role, _ := claims["role"].(string)
	return mangashelf.NewCaller(id, mangashelf.Role(role)), true
}

// WithCaller stores the caller in ctx
func WithCaller(ctx context.Context, c mangashelf.Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFrom returns the caller stored in ctx, anonymous if none
func CallerFrom(ctx context.Context) mangashelf.Caller {
	if c, ok := ctx.Value(callerKey).(mangashelf.Caller); ok {
		return c
	}
	return mangashelf.Anonymous()
}

// LoginRequest is the request body for Login
type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// LoginResponse carries an issued token
type LoginResponse struct {
	Token string           `json:"token"`
	User  *mangashelf.User `json:"user"`
}

// Login exchanges a username or email and password for a token
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	user, err := s.catalog.Authenticate(r.Context(), req.Login, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	token, err := IssueToken(s.auth, user, DefaultTokenTTL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user.HashedPassword = ""
	render.JSON(w, r, LoginResponse{Token: token, User: user})
}
