package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/demande-api/internal/models"
	"github.com/noah-isme/demande-api/internal/workflow"
	appErrors "github.com/noah-isme/demande-api/pkg/errors"
)

type fakeAuthService struct {
	lastLogin   models.LoginRequest
	revoked     string
	revokedAll  string
	loginResult *models.LoginResponse
	err         error
}

func (f *fakeAuthService) Login(_ context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	f.lastLogin = req
	return f.loginResult, f.err
}

func (f *fakeAuthService) RefreshToken(context.Context, models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	return &models.RefreshTokenResponse{AccessToken: "a2", RefreshToken: "r2"}, f.err
}

func (f *fakeAuthService) Logout(_ context.Context, refreshToken string, _ string, _ models.LoginRequest) error {
	f.revoked = refreshToken
	return f.err
}

func (f *fakeAuthService) LogoutAll(_ context.Context, userID string, _ models.LoginRequest) error {
	f.revokedAll = userID
	return f.err
}

func (f *fakeAuthService) ChangePassword(context.Context, string, models.ChangePasswordRequest) error {
	return f.err
}

func (f *fakeAuthService) Me(_ context.Context, userID string) (*models.UserInfo, error) {
	return &models.UserInfo{ID: userID, Role: workflow.RoleDoyen, Can: models.CapabilitiesFor(workflow.RoleDoyen)}, f.err
}

func TestAuthHandlerLoginPassesClientMeta(t *testing.T) {
	svc := &fakeAuthService{loginResult: &models.LoginResponse{AccessToken: "a1", RefreshToken: "r1"}}
	h := NewAuthHandler(svc)

	c, rec := testContext(http.MethodPost, "/auth/login", `{"email":"doyen@univ.dz","password":"secret"}`, nil)
	c.Request.Header.Set("User-Agent", "curl/8")
	h.Login(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "doyen@univ.dz", svc.lastLogin.Email)
	assert.Equal(t, "curl/8", svc.lastLogin.UserAgent)
	assert.NotEmpty(t, svc.lastLogin.IP)
}

func TestAuthHandlerLoginInvalidCredentials(t *testing.T) {
	h := NewAuthHandler(&fakeAuthService{err: appErrors.Clone(appErrors.ErrUnauthorized, "invalid credentials")})

	c, rec := testContext(http.MethodPost, "/auth/login", `{"email":"doyen@univ.dz","password":"wrong"}`, nil)
	h.Login(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthHandlerLoginRejectsMalformedBody(t *testing.T) {
	h := NewAuthHandler(&fakeAuthService{})

	c, rec := testContext(http.MethodPost, "/auth/login", `{"email":`, nil)
	h.Login(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthHandlerLogoutModes(t *testing.T) {
	t.Run("single session", func(t *testing.T) {
		svc := &fakeAuthService{}
		c, _ := testContext(http.MethodPost, "/auth/logout", `{"refresh_token":"r1"}`, deanSession)
		NewAuthHandler(svc).Logout(c)

		assert.Equal(t, http.StatusNoContent, c.Writer.Status())
		assert.Equal(t, "r1", svc.revoked)
		assert.Empty(t, svc.revokedAll)
	})

	t.Run("every session", func(t *testing.T) {
		svc := &fakeAuthService{}
		c, _ := testContext(http.MethodPost, "/auth/logout", `{"all":true}`, deanSession)
		NewAuthHandler(svc).Logout(c)

		assert.Equal(t, http.StatusNoContent, c.Writer.Status())
		assert.Equal(t, deanSession.UserID, svc.revokedAll)
		assert.Empty(t, svc.revoked)
	})

	t.Run("nothing to close", func(t *testing.T) {
		c, rec := testContext(http.MethodPost, "/auth/logout", `{}`, deanSession)
		NewAuthHandler(&fakeAuthService{}).Logout(c)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("foreign token", func(t *testing.T) {
		svc := &fakeAuthService{err: appErrors.Clone(appErrors.ErrForbidden, "token does not belong to user")}
		c, rec := testContext(http.MethodPost, "/auth/logout", `{"refresh_token":"r9"}`, deanSession)
		NewAuthHandler(svc).Logout(c)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestAuthHandlerMeReportsCapabilities(t *testing.T) {
	c, rec := testContext(http.MethodGet, "/auth/me", "", deanSession)
	NewAuthHandler(&fakeAuthService{}).Me(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var info models.UserInfo
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &info))
	require.NotNil(t, info.Can.ApprovalQueue)
	assert.Equal(t, workflow.StatusSentToDean, *info.Can.ApprovalQueue)
	assert.False(t, info.Can.Request)
	assert.False(t, info.Can.ManageUsers)
}

func TestAuthHandlerMeRequiresSession(t *testing.T) {
	c, rec := testContext(http.MethodGet, "/auth/me", "", nil)
	NewAuthHandler(&fakeAuthService{}).Me(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
