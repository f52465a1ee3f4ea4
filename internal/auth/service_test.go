package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivehq/hive/internal/model"
	"github.com/hivehq/hive/internal/store/sqlite"
)

func newService(t *testing.T) *Service {
	t.Helper()
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return NewService(st, "test-secret", time.Hour)
}

func TestRegisterLoginRoundtrip(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	user, token, err := svc.Register(ctx, "Dana@Example.com", "hunter22", "Dana", "")
	require.NoError(t, err)
	assert.Equal(t, "dana@example.com", user.Email, "email stored lowercased")
	assert.Equal(t, model.RoleEmployee, user.Role, "role defaults to employee")
	assert.NotEmpty(t, token)
	assert.NotEqual(t, "hunter22", user.PasswordHash)

	got, loginToken, err := svc.Login(ctx, "dana@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.NotEmpty(t, loginToken)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "dana@example.com", "hunter22", "Dana", "")
	require.NoError(t, err)

	_, _, err = svc.Register(ctx, "DANA@example.com", "other-pass", "Other", "")
	assert.ErrorIs(t, err, ErrEmailAlreadyRegistered)
}

func TestLogin_WrongPassword(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, _, err := svc.Register(ctx, "dana@example.com", "hunter22", "Dana", "")
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "dana@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_UnknownEmail(t *testing.T) {
	svc := newService(t)
	_, _, err := svc.Login(context.Background(), "nobody@example.com", "whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerifyToken_Claims(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	user, token, err := svc.Register(ctx, "admin@example.com", "hunter22", "Admin", model.RoleAdmin)
	require.NoError(t, err)

	claims, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, model.RoleAdmin, claims.Role)
}

func TestVerifyToken_Expired(t *testing.T) {
	svc := newService(t)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	_, token, err := svc.Register(context.Background(), "dana@example.com", "hunter22", "Dana", "")
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.VerifyToken(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	svc := newService(t)
	_, token, err := svc.Register(context.Background(), "dana@example.com", "hunter22", "Dana", "")
	require.NoError(t, err)

	other := newService(t)
	other.secret = []byte("different-secret")
	_, err = other.VerifyToken(token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyToken_Garbage(t *testing.T) {
	svc := newService(t)
	_, err := svc.VerifyToken("not-a-token")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
