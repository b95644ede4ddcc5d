package domain

import "time"

// AccountStatus 帳戶狀態
type AccountStatus uint8

const (
	// 正常，可進行所有金流操作
	AccountStatusActive AccountStatus = 1
	// 凍結，暫停金流，可解凍
	AccountStatusFrozen AccountStatus = 2
	// 結清，終止狀態
	AccountStatusClosed AccountStatus = 3
)

func (s AccountStatus) String() string {
	switch s {
	case AccountStatusActive:
		return "active"
	case AccountStatusFrozen:
		return "frozen"
	case AccountStatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ParseAccountStatus 將字串轉換為 AccountStatus
func ParseAccountStatus(s string) (AccountStatus, bool) {
	switch s {
	case "active":
		return AccountStatusActive, true
	case "frozen":
		return AccountStatusFrozen, true
	case "closed":
		return AccountStatusClosed, true
	}
	return 0, false
}

// CanTransitionTo 回傳是否允許由目前狀態轉換到 next
//
//	active -> frozen, active -> closed
//	frozen -> active, frozen -> closed
//	closed 為終止狀態
func (s AccountStatus) CanTransitionTo(next AccountStatus) bool {
	switch s {
	case AccountStatusActive:
		return next == AccountStatusFrozen || next == AccountStatusClosed
	case AccountStatusFrozen:
		return next == AccountStatusActive || next == AccountStatusClosed
	}
	return false
}

// Account 帳戶
// Balance 為最小貨幣單位 (minor units)，永遠不為負數
type Account struct {
	ID        int64
	Owner     string
	Balance   int64
	Status    AccountStatus
	PinHash   []byte
	CreatedAt int64
	UpdatedAt int64
}

func NewAccount(id int64, owner string, pinHash []byte) *Account {
	now := time.Now().UnixNano()
	return &Account{
		ID:        id,
		Owner:     owner,
		Status:    AccountStatusActive,
		PinHash:   pinHash,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive 是否可以進行金流操作
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// Deposit 計算存款後餘額，不修改帳戶本身
func (a *Account) Deposit(amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if a.Balance > maxBalance-amount {
		return 0, ErrInvalidAmount
	}
	return a.Balance + amount, nil
}

// Withdraw 計算提款後餘額，不修改帳戶本身
func (a *Account) Withdraw(amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	if a.Balance < amount {
		return 0, ErrInsufficientFunds
	}

	return a.Balance - amount, nil
}

// Redacted 回傳不含 PinHash 的副本，給外部讀取用
func (a Account) Redacted() Account {
	a.PinHash = nil
	return a
}

const maxBalance = int64(^uint64(0) >> 1)
