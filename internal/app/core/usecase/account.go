package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// AccountUseCase 帳戶管理：開戶、驗證、狀態轉換
// 金流仍然只能透過 CoreUseCase
type AccountUseCase struct {
	store      Store
	core       *CoreUseCase
	bcryptCost int
}

// autoIDRetries 自動分配帳號 ID 發生衝突時的重試次數
const autoIDRetries = 3

type AccountOption func(*AccountUseCase)

// WithBcryptCost 設定 PIN 雜湊成本 (測試可用 bcrypt.MinCost)
func WithBcryptCost(cost int) AccountOption {
	return func(a *AccountUseCase) {
		a.bcryptCost = cost
	}
}

func NewAccountUseCase(store Store, core *CoreUseCase, opts ...AccountOption) *AccountUseCase {
	a := &AccountUseCase{
		store:      store,
		core:       core,
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RegisterRequest 開戶請求
// AccountID 為 0 時由 Store 分配
type RegisterRequest struct {
	AccountID      int64
	Owner          string
	PIN            string
	InitialBalance int64
}

func (r *RegisterRequest) validate() error {
	if strings.TrimSpace(r.Owner) == "" {
		return domain.ErrInvalidOwner
	}
	if len(r.PIN) < 4 || len(r.PIN) > 12 {
		return domain.ErrInvalidPIN
	}
	for _, ch := range r.PIN {
		if ch < '0' || ch > '9' {
			return domain.ErrInvalidPIN
		}
	}
	if r.InitialBalance < 0 || r.AccountID < 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}

// Register 開戶，初始餘額以一筆存款分錄入帳
func (a *AccountUseCase) Register(ctx context.Context, req RegisterRequest) (domain.Account, error) {
	if err := req.validate(); err != nil {
		return domain.Account{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.PIN), a.bcryptCost)
	if err != nil {
		return domain.Account{}, fmt.Errorf("hash pin: %w", err)
	}

	owner := strings.TrimSpace(req.Owner)
	var (
		acc     *domain.Account
		opening []domain.Entry
	)
	for attempt := 0; ; attempt++ {
		acc = domain.NewAccount(req.AccountID, owner, hash)
		err = a.store.Atomic(ctx, func(tx StoreTx) error {
			opening = nil
			if err := tx.CreateAccount(ctx, acc); err != nil {
				return err
			}
			if req.InitialBalance == 0 {
				return nil
			}
			e, err := post(ctx, tx, *acc, domain.EntryKindDeposit, req.InitialBalance, uuid.New(), a.core.now().UnixNano())
			if err != nil {
				return err
			}
			acc.Balance = e.BalanceAfter
			opening = append(opening, e)
			return nil
		})
		// 自動分配的 ID 在提交前被指定同 ID 的開戶搶先，重新分配
		if req.AccountID == 0 && errors.Is(err, domain.ErrAccountAlreadyExists) && attempt < autoIDRetries {
			a.core.logger.Warn("allocated account id taken, retrying", "account_id", acc.ID, "attempt", attempt+1)
			continue
		}
		break
	}
	if err != nil {
		return domain.Account{}, domain.WrapStorage("register account", err)
	}

	a.core.logger.Info("account registered", "account_id", acc.ID, "initial_balance", req.InitialBalance)
	a.core.publish(ctx, opening)
	return acc.Redacted(), nil
}

// Authenticate 驗證帳號與 PIN，任何失敗都回傳 ErrInvalidCredentials
func (a *AccountUseCase) Authenticate(ctx context.Context, accountID int64, pin string) (domain.Account, error) {
	acc, err := a.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return domain.Account{}, domain.ErrInvalidCredentials
		}
		return domain.Account{}, domain.WrapStorage("get account", err)
	}
	if err := bcrypt.CompareHashAndPassword(acc.PinHash, []byte(pin)); err != nil {
		return domain.Account{}, domain.ErrInvalidCredentials
	}
	return acc.Redacted(), nil
}

func (a *AccountUseCase) Freeze(ctx context.Context, accountID int64) (domain.Account, error) {
	return a.SetStatus(ctx, accountID, domain.AccountStatusFrozen)
}

func (a *AccountUseCase) Unfreeze(ctx context.Context, accountID int64) (domain.Account, error) {
	return a.SetStatus(ctx, accountID, domain.AccountStatusActive)
}

// Close 結清帳戶，餘額必須為 0
func (a *AccountUseCase) Close(ctx context.Context, accountID int64) (domain.Account, error) {
	return a.SetStatus(ctx, accountID, domain.AccountStatusClosed)
}

// SetStatus 轉換帳戶狀態，與金流共用同一把帳戶鎖
func (a *AccountUseCase) SetStatus(ctx context.Context, accountID int64, to domain.AccountStatus) (domain.Account, error) {
	unlock, err := a.core.lockAccounts(ctx, accountID)
	if err != nil {
		return domain.Account{}, err
	}
	defer unlock()

	var updated domain.Account
	err = a.store.Atomic(ctx, func(tx StoreTx) error {
		acc, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if !acc.Status.CanTransitionTo(to) {
			return fmt.Errorf("%s -> %s: %w", acc.Status, to, domain.ErrInvalidStatusTransition)
		}
		if to == domain.AccountStatusClosed && acc.Balance != 0 {
			return domain.ErrAccountNotEmpty
		}
		if err := tx.SetStatus(ctx, accountID, acc.Status, to); err != nil {
			return err
		}
		acc.Status = to
		updated = acc
		return nil
	})
	if err != nil {
		return domain.Account{}, domain.WrapStorage("set status", err)
	}

	a.core.logger.Info("account status changed", "account_id", accountID, "status", to.String())
	return updated.Redacted(), nil
}

// ListAccounts 列出所有帳戶 (不含 PinHash)
func (a *AccountUseCase) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	accounts, err := a.store.ListAccounts(ctx)
	if err != nil {
		return nil, domain.WrapStorage("list accounts", err)
	}
	for i := range accounts {
		accounts[i] = accounts[i].Redacted()
	}
	return accounts, nil
}
