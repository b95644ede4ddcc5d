package usecase

import (
	"context"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// Store 是帳務系統的儲存介面 (Driven Port)
// 所有餘額與分錄的寫入只能透過 Atomic 進行
type Store interface {
	// Atomic 在單一儲存交易中執行 fn，fn 回傳錯誤時全部 rollback
	Atomic(ctx context.Context, fn func(tx StoreTx) error) error
	// GetAccount 讀取已提交的帳戶資料
	GetAccount(ctx context.Context, accountID int64) (domain.Account, error)
	// ListAccounts 讀取所有帳戶，依 ID 排序
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	// ReadEntries 依 Sequence 遞減讀取帳戶分錄，只回傳 Sequence < before 的資料 (before 為 0 則不限)
	ReadEntries(ctx context.Context, accountID int64, before domain.Cursor, limit int) ([]domain.Entry, error)
	// ReadAllEntries 跨所有帳戶依 Sequence 遞減讀取分錄，before 語意同 ReadEntries
	ReadAllEntries(ctx context.Context, before domain.Cursor, limit int) ([]domain.Entry, error)
	// GetAdmin 依帳號讀取管理員，不存在回傳 domain.ErrAdminNotFound
	GetAdmin(ctx context.Context, username string) (domain.Admin, error)
}

// StoreTx 是 Atomic 內可用的操作
type StoreTx interface {
	GetAccount(ctx context.Context, accountID int64) (domain.Account, error)
	CreateAccount(ctx context.Context, account *domain.Account) error
	// CompareAndSetBalance 只有目前餘額等於 expected 時才寫入 next，否則回傳 domain.ErrBalanceConflict
	CompareAndSetBalance(ctx context.Context, accountID int64, expected, next int64) error
	// SetStatus 只有目前狀態等於 from 時才寫入 to
	SetStatus(ctx context.Context, accountID int64, from, to domain.AccountStatus) error
	// AppendEntry 新增分錄並分配 Sequence
	AppendEntry(ctx context.Context, entry *domain.Entry) error
	// FindEntriesByCorrelation 冪等檢查用
	FindEntriesByCorrelation(ctx context.Context, correlationID uuid.UUID) ([]domain.Entry, error)
	// CreateAdmin 新增管理員並分配 ID，帳號重複回傳 domain.ErrAdminAlreadyExists
	CreateAdmin(ctx context.Context, admin *domain.Admin) error
}

// EventPublisher 在交易提交後發布分錄
type EventPublisher interface {
	PublishEntries(ctx context.Context, entries []domain.Entry) error
}
