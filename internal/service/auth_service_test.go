package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/perpus-adp-api/internal/models"
)

type mockAuthRepo struct {
	users         map[string]*models.User
	refreshTokens map[string]*models.RefreshToken
	revokedAll    []string
	audits        []models.AuditLog
}

func newMockAuthRepo(users ...*models.User) *mockAuthRepo {
	repo := &mockAuthRepo{users: make(map[string]*models.User), refreshTokens: make(map[string]*models.RefreshToken)}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	return nil
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if u, ok := m.users[id]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.revokedAll = append(m.revokedAll, userID)
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if t, ok := m.refreshTokens[token]; ok {
		return t, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, t := range m.refreshTokens {
		if t.ID == id {
			t.Revoked = true
			t.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.audits = append(m.audits, *log)
	return nil
}

type mockStudentLookup struct {
	byUser map[string]*models.Student
}

func (m *mockStudentLookup) FindByUserID(ctx context.Context, userID string) (*models.Student, error) {
	if s, ok := m.byUser[userID]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func testAuthConfig() AuthConfig {
	return AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "perpus-test",
	}
}

func hashPassword(t *testing.T, raw string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestAuthServiceLoginIssuesStudentClaims(t *testing.T) {
	user := &models.User{ID: "user-1", Email: "jane@example.com", PasswordHash: hashPassword(t, "supersecret"), FullName: "Jane Doe", Role: models.RoleStudent, Active: true}
	repo := newMockAuthRepo(user)
	students := &mockStudentLookup{byUser: map[string]*models.Student{"user-1": {ID: "student-1", UserID: "user-1"}}}
	svc := NewAuthService(repo, students, validator.New(), zap.NewNop(), testAuthConfig())

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "jane@example.com", Password: "supersecret"})
	require.NoError(t, err)
	require.NotNil(t, resp.User.StudentID)
	assert.Equal(t, "student-1", *resp.User.StudentID)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, claims.Role)
	require.NotNil(t, claims.StudentID)
	assert.Equal(t, "student-1", *claims.StudentID)
}

func TestAuthServiceLoginAdminHasNoStudentClaim(t *testing.T) {
	user := &models.User{ID: "user-1", Email: "admin@example.com", PasswordHash: hashPassword(t, "supersecret"), FullName: "Admin", Role: models.RoleAdmin, Active: true}
	repo := newMockAuthRepo(user)
	svc := NewAuthService(repo, &mockStudentLookup{}, validator.New(), zap.NewNop(), testAuthConfig())

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@example.com", Password: "supersecret"})
	require.NoError(t, err)
	assert.Nil(t, resp.User.StudentID)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	user := &models.User{ID: "user-1", Email: "jane@example.com", PasswordHash: hashPassword(t, "supersecret"), Role: models.RoleAdmin, Active: true}
	svc := NewAuthService(newMockAuthRepo(user), nil, validator.New(), zap.NewNop(), testAuthConfig())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "jane@example.com", Password: "wrong"})
	require.Error(t, err)
}

func TestAuthServiceLoginInactiveAccount(t *testing.T) {
	user := &models.User{ID: "user-1", Email: "jane@example.com", PasswordHash: hashPassword(t, "supersecret"), Role: models.RoleAdmin, Active: false}
	svc := NewAuthService(newMockAuthRepo(user), nil, validator.New(), zap.NewNop(), testAuthConfig())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "jane@example.com", Password: "supersecret"})
	require.Error(t, err)
}

func TestAuthServiceLoginStudentWithoutProfile(t *testing.T) {
	user := &models.User{ID: "user-1", Email: "jane@example.com", PasswordHash: hashPassword(t, "supersecret"), Role: models.RoleStudent, Active: true}
	svc := NewAuthService(newMockAuthRepo(user), &mockStudentLookup{}, validator.New(), zap.NewNop(), testAuthConfig())

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "jane@example.com", Password: "supersecret"})
	require.Error(t, err)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	user := &models.User{ID: "user-1", Email: "jane@example.com", PasswordHash: hashPassword(t, "supersecret"), Role: models.RoleAdmin, Active: true}
	repo := newMockAuthRepo(user)
	svc := NewAuthService(repo, nil, validator.New(), zap.NewNop(), testAuthConfig())

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "jane@example.com", Password: "supersecret"})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	// The used token is revoked and cannot be replayed.
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
}

func TestAuthServiceChangePasswordRevokesSessions(t *testing.T) {
	user := &models.User{ID: "user-1", Email: "jane@example.com", PasswordHash: hashPassword(t, "oldpassword"), Role: models.RoleAdmin, Active: true}
	repo := newMockAuthRepo(user)
	svc := NewAuthService(repo, nil, validator.New(), zap.NewNop(), testAuthConfig())

	err := svc.ChangePassword(context.Background(), "user-1", models.ChangePasswordRequest{OldPassword: "oldpassword", NewPassword: "newpassword"})
	require.NoError(t, err)
	assert.Contains(t, repo.revokedAll, "user-1")

	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("newpassword")))
}

func TestAuthServiceChangePasswordWrongOld(t *testing.T) {
	user := &models.User{ID: "user-1", Email: "jane@example.com", PasswordHash: hashPassword(t, "oldpassword"), Role: models.RoleAdmin, Active: true}
	svc := NewAuthService(newMockAuthRepo(user), nil, validator.New(), zap.NewNop(), testAuthConfig())

	err := svc.ChangePassword(context.Background(), "user-1", models.ChangePasswordRequest{OldPassword: "wrong", NewPassword: "newpassword"})
	require.Error(t, err)
}

func TestAuthServiceValidateTokenRejectsGarbage(t *testing.T) {
	svc := NewAuthService(newMockAuthRepo(), nil, validator.New(), zap.NewNop(), testAuthConfig())

	_, err := svc.ValidateToken("not-a-token")
	require.Error(t, err)
}
