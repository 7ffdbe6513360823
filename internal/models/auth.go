package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/demande-api/internal/workflow"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued tokens and user info.
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         UserInfo  `json:"user"`
	IssuedAt     time.Time `json:"issued_at"`
}

// RefreshTokenRequest exchanges a refresh token for a new access token.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// RefreshTokenResponse returns the refreshed tokens.
type RefreshTokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

// ChangePasswordRequest payload for updating password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID         string        `json:"id"`
	Email      string        `json:"email"`
	FirstName  string        `json:"first_name"`
	LastName   string        `json:"last_name"`
	Role       workflow.Role `json:"role"`
	Department string        `json:"department"`
	Can        Capabilities  `json:"capabilities"`
}

// Capabilities tells a client which parts of the workflow the role drives.
type Capabilities struct {
	Request          bool             `json:"request"`
	ApprovalQueue    *workflow.Status `json:"approval_queue,omitempty"`
	DepartmentScoped bool             `json:"department_scoped"`
	ManageStock      bool             `json:"manage_stock"`
	ManageUsers      bool             `json:"manage_users"`
}

// CapabilitiesFor derives the capabilities of role.
func CapabilitiesFor(role workflow.Role) Capabilities {
	caps := Capabilities{
		Request:          role.CanRequest(),
		DepartmentScoped: role.DepartmentScoped(),
		ManageStock:      role == workflow.RoleMagasinier || role == workflow.RoleAdmin,
		ManageUsers:      role == workflow.RoleAdmin,
	}
	if queue, ok := role.Queue(); ok {
		caps.ApprovalQueue = &queue
	}
	return caps
}

// LogoutRequest closes one session, or every session of the caller when All is set.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	All          bool   `json:"all"`
}

// Session is the authenticated caller. It is issued at login as the access
// token payload and passed explicitly to every service operation.
type Session struct {
	UserID     string        `json:"user_id"`
	Role       workflow.Role `json:"role"`
	Department string        `json:"department"`
	Email      string        `json:"email"`
	FullName   string        `json:"full_name"`
	jwt.RegisteredClaims
}

// RefreshToken is one login session. The opaque Token is spent on every
// refresh and a new row takes its place.
type RefreshToken struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	Token     string     `db:"token" json:"-"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	Revoked   bool       `db:"revoked" json:"revoked"`
	RevokedAt *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	IPAddress string     `db:"ip_address" json:"ip_address"`
	UserAgent string     `db:"user_agent" json:"user_agent"`
}

// Usable reports whether the token can still be exchanged at now.
func (t RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
