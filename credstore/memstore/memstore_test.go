package memstore

import (
	"context"
	"testing"

	"github.com/MrEthical07/adminauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndLookupIsCaseInsensitive(t *testing.T) {
	s := New()
	ctx := context.Background()

	acct, err := s.CreateAccount(ctx, adminauth.Account{Email: "Root@Example.com", PasswordHash: "h"})
	require.NoError(t, err)
	assert.NotEmpty(t, acct.ID)
	assert.Equal(t, "root@example.com", acct.Email)

	got, err := s.GetAccountByEmail(ctx, "ROOT@example.COM")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)

	_, err = s.CreateAccount(ctx, adminauth.Account{Email: "root@example.com"})
	assert.ErrorIs(t, err, adminauth.ErrConflict)
}

func TestUpdateEmailConflictAndIndex(t *testing.T) {
	s := New()
	ctx := context.Background()

	a, err := s.CreateAccount(ctx, adminauth.Account{Email: "a@example.com"})
	require.NoError(t, err)
	_, err = s.CreateAccount(ctx, adminauth.Account{Email: "b@example.com"})
	require.NoError(t, err)

	assert.ErrorIs(t, s.UpdateEmail(ctx, a.ID, "b@example.com"), adminauth.ErrConflict)

	require.NoError(t, s.UpdateEmail(ctx, a.ID, "c@example.com"))
	inUse, err := s.EmailInUse(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, inUse)

	got, err := s.GetAccountByEmail(ctx, "c@example.com")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
}

func TestReturnedAccountsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	a, err := s.CreateAccount(ctx, adminauth.Account{Email: "a@example.com"})
	require.NoError(t, err)
	require.NoError(t, s.SetTOTP(ctx, a.ID, []byte{1, 2, 3}, true))

	got, err := s.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	got.TOTPSecret[0] = 9

	again, err := s.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, byte(1), again.TOTPSecret[0])
	assert.True(t, again.TOTPEnabled)

	require.NoError(t, s.ClearTOTP(ctx, a.ID))
	again, err = s.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, again.TOTPEnabled)
	assert.Nil(t, again.TOTPSecret)

	_, err = s.GetAccountByID(ctx, "missing")
	assert.ErrorIs(t, err, adminauth.ErrAccountNotFound)
}
