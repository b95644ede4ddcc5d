package domain

import "github.com/google/uuid"

// EntryKind 分錄種類
type EntryKind uint8

const (
	EntryKindDeposit     EntryKind = 1
	EntryKindWithdrawal  EntryKind = 2
	EntryKindTransferOut EntryKind = 3
	EntryKindTransferIn  EntryKind = 4
)

func (k EntryKind) String() string {
	switch k {
	case EntryKindDeposit:
		return "deposit"
	case EntryKindWithdrawal:
		return "withdrawal"
	case EntryKindTransferOut:
		return "transfer_out"
	case EntryKindTransferIn:
		return "transfer_in"
	default:
		return "unknown"
	}
}

// IsDebit 是否為扣款分錄
func (k EntryKind) IsDebit() bool {
	return k == EntryKindWithdrawal || k == EntryKindTransferOut
}

// Cursor 分頁游標，為分錄的 Sequence；0 代表從最新開始
type Cursor uint64

// Entry 帳本分錄，只能新增，不能修改或刪除
type Entry struct {
	// Sequence: 全局遞增序號 (由 Store 於寫入時分配)
	Sequence uint64
	// AccountID: 分錄所屬帳戶
	AccountID int64
	// Amount: 正整數金額
	Amount int64
	// BalanceAfter: 此筆分錄寫入後的帳戶餘額
	BalanceAfter int64
	// CreatedAt: Unix nano
	CreatedAt int64
	ID        uuid.UUID
	// CorrelationID: 產生此分錄的交易 ID，轉帳兩腳共用
	CorrelationID uuid.UUID
	Kind          EntryKind
}

// Cursor 回傳以此分錄為界的下一頁游標
func (e Entry) Cursor() Cursor {
	return Cursor(e.Sequence)
}
