package domain

import "github.com/google/uuid"

// amount 使用 int64 最小貨幣單位，精度：小數點後 2 位
const (
	CurrencyExponent = 2
	CurrencyScale    = 100
)

// TransactionType 交易類型
type TransactionType uint8

const (
	// 存款
	TransactionTypeDeposit TransactionType = 1
	// 提款
	TransactionTypeWithdraw TransactionType = 2
	// 轉帳
	TransactionTypeTransfer TransactionType = 3
)

func (t TransactionType) String() string {
	switch t {
	case TransactionTypeDeposit:
		return "deposit"
	case TransactionTypeWithdraw:
		return "withdraw"
	case TransactionTypeTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Transaction 一次金流操作的請求
// TransactionID 同時是冪等鍵與分錄的 CorrelationID
type Transaction struct {
	// From, To: 帳戶 ID (存款只有 To，提款只有 From)
	From int64
	To   int64
	// Amount: 金額
	Amount int64
	// TransactionID: 外部追蹤號 (UUID)
	TransactionID uuid.UUID
	Type          TransactionType
}

// Validate 檢查金額與帳戶組合
func (t *Transaction) Validate() error {
	if t.Amount <= 0 {
		return ErrInvalidAmount
	}
	if t.Type == TransactionTypeTransfer && t.From == t.To {
		return ErrSameAccount
	}
	return nil
}

// GetLockIDs 回傳需要鎖定的帳號 ID，並確保順序以避免死鎖
func (t *Transaction) GetLockIDs() (ids []int64) {
	ids = make([]int64, 0, 2)
	switch t.Type {
	case TransactionTypeTransfer:
		if t.From < t.To {
			ids = append(ids, t.From, t.To)
		} else {
			ids = append(ids, t.To, t.From)
		}
	case TransactionTypeDeposit:
		ids = append(ids, t.To)
	case TransactionTypeWithdraw:
		ids = append(ids, t.From)
	}
	return ids
}

// MatchesEntries 檢查既有分錄是否由同一筆交易內容產生
// 用於冪等重送：相同 TransactionID 但類型、帳戶或金額不同時回傳 false
func (t *Transaction) MatchesEntries(entries []Entry) bool {
	type leg struct {
		kind      EntryKind
		accountID int64
	}
	var want []leg
	switch t.Type {
	case TransactionTypeDeposit:
		want = []leg{{EntryKindDeposit, t.To}}
	case TransactionTypeWithdraw:
		want = []leg{{EntryKindWithdrawal, t.From}}
	case TransactionTypeTransfer:
		want = []leg{{EntryKindTransferOut, t.From}, {EntryKindTransferIn, t.To}}
	default:
		return false
	}
	if len(entries) != len(want) {
		return false
	}
	for i, e := range entries {
		if e.Kind != want[i].kind || e.AccountID != want[i].accountID || e.Amount != t.Amount {
			return false
		}
	}
	return true
}
