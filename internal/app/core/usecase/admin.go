package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// maxPasswordBytes bcrypt 只使用前 72 bytes
const maxPasswordBytes = 72

// AdminUseCase 管理員註冊與登入
type AdminUseCase struct {
	store      Store
	logger     *slog.Logger
	bcryptCost int
}

type AdminOption func(*AdminUseCase)

func WithAdminBcryptCost(cost int) AdminOption {
	return func(a *AdminUseCase) {
		a.bcryptCost = cost
	}
}

func WithAdminLogger(l *slog.Logger) AdminOption {
	return func(a *AdminUseCase) {
		a.logger = l
	}
}

func NewAdminUseCase(store Store, opts ...AdminOption) *AdminUseCase {
	a := &AdminUseCase{
		store:      store,
		logger:     slog.Default(),
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RegisterAdmin 註冊管理員，帳號前後空白會被去除
//
// 參數:
//
//	username: 管理員帳號，不可重複
//	password: 密碼，以 bcrypt 雜湊後儲存
//
// 回傳:
//
//	domain.Admin: 不含 PasswordHash 的管理員資料
//	error: ErrInvalidUsername / ErrInvalidPassword / ErrAdminAlreadyExists / 儲存錯誤
func (a *AdminUseCase) RegisterAdmin(ctx context.Context, username, password string) (domain.Admin, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.Admin{}, domain.ErrInvalidUsername
	}
	if password == "" || len(password) > maxPasswordBytes {
		return domain.Admin{}, domain.ErrInvalidPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.bcryptCost)
	if err != nil {
		return domain.Admin{}, fmt.Errorf("hash password: %w", err)
	}

	admin := domain.NewAdmin(username, hash)
	err = a.store.Atomic(ctx, func(tx StoreTx) error {
		return tx.CreateAdmin(ctx, admin)
	})
	if err != nil {
		return domain.Admin{}, domain.WrapStorage("register admin", err)
	}

	a.logger.Info("admin registered", "admin_id", admin.ID, "username", admin.Username)
	return admin.Redacted(), nil
}

// AuthenticateAdmin 驗證管理員帳號密碼，帳號不存在或密碼錯誤都回傳 ErrInvalidCredentials
func (a *AdminUseCase) AuthenticateAdmin(ctx context.Context, username, password string) (domain.Admin, error) {
	admin, err := a.store.GetAdmin(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, domain.ErrAdminNotFound) {
			return domain.Admin{}, domain.ErrInvalidCredentials
		}
		return domain.Admin{}, domain.WrapStorage("get admin", err)
	}
	if err := bcrypt.CompareHashAndPassword(admin.PasswordHash, []byte(password)); err != nil {
		return domain.Admin{}, domain.ErrInvalidCredentials
	}
	return admin.Redacted(), nil
}
