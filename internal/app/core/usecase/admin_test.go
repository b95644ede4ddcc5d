package usecase_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

func newAdmins(h *harness) *usecase.AdminUseCase {
	return usecase.NewAdminUseCase(h.store,
		usecase.WithAdminBcryptCost(bcrypt.MinCost),
		usecase.WithAdminLogger(discard),
	)
}

func TestRegisterAdmin(t *testing.T) {
	ctx := context.Background()
	admins := newAdmins(newHarness(t, nil))

	admin, err := admins.RegisterAdmin(ctx, "  root  ", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "root", admin.Username)
	assert.NotZero(t, admin.ID)
	assert.Nil(t, admin.PasswordHash, "password hash must not leave the use case")

	_, err = admins.RegisterAdmin(ctx, "root", "other")
	assert.ErrorIs(t, err, domain.ErrAdminAlreadyExists)

	tests := []struct {
		name     string
		username string
		password string
		want     error
	}{
		{"empty username", " ", "s3cret", domain.ErrInvalidUsername},
		{"empty password", "ops", "", domain.ErrInvalidPassword},
		{"password too long", "ops", strings.Repeat("x", 73), domain.ErrInvalidPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := admins.RegisterAdmin(ctx, tt.username, tt.password)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAuthenticateAdmin(t *testing.T) {
	ctx := context.Background()
	admins := newAdmins(newHarness(t, nil))
	registered, err := admins.RegisterAdmin(ctx, "root", "s3cret")
	require.NoError(t, err)

	admin, err := admins.AuthenticateAdmin(ctx, "root", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, admin.ID)
	assert.Nil(t, admin.PasswordHash)

	_, err = admins.AuthenticateAdmin(ctx, "root", "wrong")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = admins.AuthenticateAdmin(ctx, "nobody", "s3cret")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}
