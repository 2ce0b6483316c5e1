package services

import (
	"context"
	"testing"

	"github.com/storefront/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateProfile(t *testing.T) {
	f := newAuthFixture(t)
	user := f.register(t, "alice@example.com", types.RoleBuyer)
	svc := NewUserService(f.users, f.tokens, discardLogger())

	updated, err := svc.UpdateProfile(context.Background(), user.ID, UpdateProfileInput{Name: "  Alice Liddell "})
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", updated.Name)
	assert.Equal(t, user.Email, updated.Email)

	_, err = svc.UpdateProfile(context.Background(), 999, UpdateProfileInput{Name: "Ghost"})
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestChangePassword(t *testing.T) {
	f := newAuthFixture(t)
	user := f.register(t, "alice@example.com", types.RoleBuyer)
	svc := NewUserService(f.users, f.tokens, discardLogger())
	_, err := f.svc.Login(context.Background(), "alice@example.com", "s3cret-pass")
	require.NoError(t, err)

	err = svc.ChangePassword(context.Background(), user.ID, ChangePasswordInput{
		CurrentPassword: "wrong-pass1",
		NewPassword:     "n3w-password",
	})
	assert.Equal(t, CodeValidation, CodeOf(err))

	err = svc.ChangePassword(context.Background(), user.ID, ChangePasswordInput{
		CurrentPassword: "s3cret-pass",
		NewPassword:     "weak",
	})
	assert.Equal(t, CodeValidation, CodeOf(err))

	require.NoError(t, svc.ChangePassword(context.Background(), user.ID, ChangePasswordInput{
		CurrentPassword: "s3cret-pass",
		NewPassword:     "n3w-password",
	}))
	assert.Zero(t, f.tokens.active(user.ID))

	_, err = f.svc.Login(context.Background(), "alice@example.com", "s3cret-pass")
	assert.Equal(t, CodeUnauthorized, CodeOf(err))
	_, err = f.svc.Login(context.Background(), "alice@example.com", "n3w-password")
	assert.NoError(t, err)
}

func TestDeactivate(t *testing.T) {
	f := newAuthFixture(t)
	user := f.register(t, "alice@example.com", types.RoleBuyer)
	svc := NewUserService(f.users, f.tokens, discardLogger())
	session, err := f.svc.Login(context.Background(), "alice@example.com", "s3cret-pass")
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(context.Background(), user.ID))
	require.NoError(t, svc.Deactivate(context.Background(), user.ID))

	stored, err := f.users.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)

	_, err = f.svc.Refresh(context.Background(), session.RefreshToken)
	assert.Equal(t, CodeUnauthorized, CodeOf(err))
	_, err = f.svc.Login(context.Background(), "alice@example.com", "s3cret-pass")
	assert.Equal(t, CodeUnauthorized, CodeOf(err))
}
