package usecase

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/pkg/keylock"
)

const (
	DefaultLockTimeout = 2 * time.Second
	DefaultCASRetries  = 3

	DefaultPageSize = 50
	MaxPageSize     = 500
)

// CoreUseCase 是核心業務邏輯層 (Ledger Core)
//
// 結構:
//
//	store: 儲存介面，所有寫入都在 store.Atomic 內完成
//	locks: 每個帳戶一把鎖，依帳戶 ID 遞增順序取得
//	publisher: 交易提交後發布分錄 (可選)
type CoreUseCase struct {
	store       Store
	locks       *keylock.KeyedMutex
	publisher   EventPublisher
	logger      *slog.Logger
	lockTimeout time.Duration
	casRetries  int
	pageSize    int
	now         func() time.Time
}

// Option 設定 CoreUseCase
type Option func(*CoreUseCase)

// WithLockTimeout 設定取得帳戶鎖的最長等待時間
func WithLockTimeout(d time.Duration) Option {
	return func(c *CoreUseCase) {
		c.lockTimeout = d
	}
}

// WithCASRetries 設定 compare-and-set 衝突時的重試次數
func WithCASRetries(n int) Option {
	return func(c *CoreUseCase) {
		c.casRetries = n
	}
}

func WithPublisher(p EventPublisher) Option {
	return func(c *CoreUseCase) {
		c.publisher = p
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *CoreUseCase) {
		c.logger = l
	}
}

// WithPageSize 設定 History 每次向 Store 讀取的筆數
func WithPageSize(n int) Option {
	return func(c *CoreUseCase) {
		c.pageSize = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *CoreUseCase) {
		c.now = now
	}
}

func NewCoreUseCase(store Store, opts ...Option) *CoreUseCase {
	c := &CoreUseCase{
		store:       store,
		locks:       keylock.New(),
		logger:      slog.Default(),
		lockTimeout: DefaultLockTimeout,
		casRetries:  DefaultCASRetries,
		pageSize:    DefaultPageSize,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pageSize <= 0 || c.pageSize > MaxPageSize {
		c.pageSize = DefaultPageSize
	}
	return c
}

// TxOption 設定單筆交易
type TxOption func(*domain.Transaction)

// WithTransactionID 指定交易 ID (冪等鍵)，重送相同 ID 會回傳第一次產生的分錄
// 同一個 ID 用在內容不同的交易上會回傳 ErrTransactionConflict
func WithTransactionID(id uuid.UUID) TxOption {
	return func(t *domain.Transaction) {
		t.TransactionID = id
	}
}

func newTransaction(typ domain.TransactionType, from, to, amount int64, opts []TxOption) *domain.Transaction {
	tran := &domain.Transaction{
		Type:   typ,
		From:   from,
		To:     to,
		Amount: amount,
	}
	for _, opt := range opts {
		opt(tran)
	}
	if tran.TransactionID == uuid.Nil {
		tran.TransactionID = uuid.New()
	}
	return tran
}

// Deposit 存款
func (c *CoreUseCase) Deposit(ctx context.Context, accountID, amount int64, opts ...TxOption) (domain.Entry, error) {
	entries, err := c.PostTransaction(ctx, newTransaction(domain.TransactionTypeDeposit, 0, accountID, amount, opts))
	if err != nil {
		return domain.Entry{}, err
	}
	return entries[0], nil
}

// Withdraw 提款，餘額檢查與扣款在同一把帳戶鎖與同一個儲存交易內完成
func (c *CoreUseCase) Withdraw(ctx context.Context, accountID, amount int64, opts ...TxOption) (domain.Entry, error) {
	entries, err := c.PostTransaction(ctx, newTransaction(domain.TransactionTypeWithdraw, accountID, 0, amount, opts))
	if err != nil {
		return domain.Entry{}, err
	}
	return entries[0], nil
}

// Transfer 轉帳，回傳轉出與轉入兩筆分錄 (共用 CorrelationID)
func (c *CoreUseCase) Transfer(ctx context.Context, fromID, toID, amount int64, opts ...TxOption) (out, in domain.Entry, err error) {
	entries, err := c.PostTransaction(ctx, newTransaction(domain.TransactionTypeTransfer, fromID, toID, amount, opts))
	if err != nil {
		return domain.Entry{}, domain.Entry{}, err
	}
	return entries[0], entries[1], nil
}

// PostTransaction 處理交易
//
// 參數:
//
//	ctx: 上下文
//	tran: 交易請求物件
//
// 回傳:
//
//	[]domain.Entry: 產生的分錄 (轉帳時依序為轉出、轉入)
//	error: 處理錯誤
//
// Lock(帳戶 ID 遞增) -> Store.Atomic(冪等檢查 -> CAS 餘額 -> 寫分錄) -> Unlock -> Publish
func (c *CoreUseCase) PostTransaction(ctx context.Context, tran *domain.Transaction) ([]domain.Entry, error) {
	if err := tran.Validate(); err != nil {
		return nil, err
	}

	unlock, err := c.lockAccounts(ctx, tran.GetLockIDs()...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		entries  []domain.Entry
		replayed bool
	)
	for attempt := 0; ; attempt++ {
		entries, replayed, err = c.apply(ctx, tran)
		if !errors.Is(err, domain.ErrBalanceConflict) {
			break
		}
		if attempt >= c.casRetries {
			err = fmt.Errorf("%w: %w", domain.ErrLockTimeout, err)
			break
		}
		c.logger.Warn("balance conflict, retrying",
			"transaction_id", tran.TransactionID,
			"attempt", attempt+1,
		)
	}
	if err != nil {
		c.logger.Debug("transaction rejected",
			"transaction_id", tran.TransactionID,
			"type", tran.Type.String(),
			"error", err,
		)
		return nil, err
	}
	unlock()

	if replayed {
		c.logger.Info("transaction already processed", "transaction_id", tran.TransactionID)
		return entries, nil
	}
	c.publish(ctx, entries)
	return entries, nil
}

// lockAccounts 取得帳戶鎖，逾時或 ctx 結束都回傳 ErrLockTimeout
func (c *CoreUseCase) lockAccounts(ctx context.Context, ids ...int64) (keylock.Unlocker, error) {
	unlock, err := c.locks.Lock(ctx, c.lockTimeout, ids...)
	if err != nil {
		return nil, fmt.Errorf("%w: accounts %v: %w", domain.ErrLockTimeout, ids, err)
	}
	return unlock, nil
}

func (c *CoreUseCase) apply(ctx context.Context, tran *domain.Transaction) (entries []domain.Entry, replayed bool, err error) {
	err = c.store.Atomic(ctx, func(tx StoreTx) error {
		entries, replayed = nil, false

		existing, err := tx.FindEntriesByCorrelation(ctx, tran.TransactionID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			if !tran.MatchesEntries(existing) {
				return fmt.Errorf("transaction %s: %w", tran.TransactionID, domain.ErrTransactionConflict)
			}
			entries, replayed = existing, true
			return nil
		}

		now := c.now().UnixNano()
		switch tran.Type {
		case domain.TransactionTypeDeposit:
			acc, err := activeAccount(ctx, tx, tran.To)
			if err != nil {
				return err
			}
			e, err := post(ctx, tx, acc, domain.EntryKindDeposit, tran.Amount, tran.TransactionID, now)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		case domain.TransactionTypeWithdraw:
			acc, err := activeAccount(ctx, tx, tran.From)
			if err != nil {
				return err
			}
			e, err := post(ctx, tx, acc, domain.EntryKindWithdrawal, tran.Amount, tran.TransactionID, now)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		case domain.TransactionTypeTransfer:
			// 兩邊帳戶都先檢查完才開始寫
			from, err := activeAccount(ctx, tx, tran.From)
			if err != nil {
				return err
			}
			to, err := activeAccount(ctx, tx, tran.To)
			if err != nil {
				return err
			}
			out, err := post(ctx, tx, from, domain.EntryKindTransferOut, tran.Amount, tran.TransactionID, now)
			if err != nil {
				return err
			}
			in, err := post(ctx, tx, to, domain.EntryKindTransferIn, tran.Amount, tran.TransactionID, now)
			if err != nil {
				return err
			}
			entries = append(entries, out, in)
		default:
			return fmt.Errorf("unknown transaction type %d: %w", tran.Type, domain.ErrInvalidAmount)
		}
		return nil
	})
	return entries, replayed, domain.WrapStorage("post transaction", err)
}

func activeAccount(ctx context.Context, tx StoreTx, id int64) (domain.Account, error) {
	acc, err := tx.GetAccount(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}
	if !acc.IsActive() {
		return domain.Account{}, fmt.Errorf("account %d is %s: %w", id, acc.Status, domain.ErrAccountInactive)
	}
	return acc, nil
}

// post 對單一帳戶做 CAS 餘額更新並寫入分錄
func post(ctx context.Context, tx StoreTx, acc domain.Account, kind domain.EntryKind, amount int64, correlationID uuid.UUID, now int64) (domain.Entry, error) {
	var (
		next int64
		err  error
	)
	if kind.IsDebit() {
		next, err = acc.Withdraw(amount)
	} else {
		next, err = acc.Deposit(amount)
	}
	if err != nil {
		return domain.Entry{}, err
	}

	if err := tx.CompareAndSetBalance(ctx, acc.ID, acc.Balance, next); err != nil {
		return domain.Entry{}, err
	}

	entry := domain.Entry{
		ID:            uuid.New(),
		AccountID:     acc.ID,
		Kind:          kind,
		Amount:        amount,
		BalanceAfter:  next,
		CreatedAt:     now,
		CorrelationID: correlationID,
	}
	if err := tx.AppendEntry(ctx, &entry); err != nil {
		return domain.Entry{}, err
	}
	return entry, nil
}

func (c *CoreUseCase) publish(ctx context.Context, entries []domain.Entry) {
	if c.publisher == nil || len(entries) == 0 {
		return
	}
	if err := c.publisher.PublishEntries(ctx, entries); err != nil {
		// 交易已提交，發布失敗只記錄
		c.logger.Error("publish entries failed",
			"correlation_id", entries[0].CorrelationID,
			"error", err,
		)
	}
}

// GetAccount 取得帳戶資料 (不含 PinHash)
func (c *CoreUseCase) GetAccount(ctx context.Context, accountID int64) (domain.Account, error) {
	acc, err := c.store.GetAccount(ctx, accountID)
	if err != nil {
		return domain.Account{}, domain.WrapStorage("get account", err)
	}
	return acc.Redacted(), nil
}

// GetAccountBalance 取得帳戶餘額
func (c *CoreUseCase) GetAccountBalance(ctx context.Context, accountID int64) (int64, error) {
	acc, err := c.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// History 依時間由新到舊逐筆產生帳戶分錄
// limit <= 0 代表不限筆數；before 為 0 代表從最新一筆開始
// 每次向 Store 讀一頁，呼叫端停止迭代就不會再讀取
func (c *CoreUseCase) History(ctx context.Context, accountID int64, limit int, before domain.Cursor) iter.Seq2[domain.Entry, error] {
	return func(yield func(domain.Entry, error) bool) {
		if _, err := c.store.GetAccount(ctx, accountID); err != nil {
			yield(domain.Entry{}, domain.WrapStorage("get account", err))
			return
		}

		cursor := before
		remaining := limit
		for {
			size := c.pageSize
			if limit > 0 && remaining < size {
				size = remaining
			}
			page, err := c.store.ReadEntries(ctx, accountID, cursor, size)
			if err != nil {
				yield(domain.Entry{}, domain.WrapStorage("read entries", err))
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if limit > 0 {
				remaining -= len(page)
				if remaining <= 0 {
					return
				}
			}
			if len(page) < size {
				return
			}
			cursor = page[len(page)-1].Cursor()
		}
	}
}

// HistoryPage 取得單頁分錄，next 為 0 代表沒有下一頁
func (c *CoreUseCase) HistoryPage(ctx context.Context, accountID int64, limit int, before domain.Cursor) (entries []domain.Entry, next domain.Cursor, err error) {
	if _, err := c.store.GetAccount(ctx, accountID); err != nil {
		return nil, 0, domain.WrapStorage("get account", err)
	}
	return readPage(limit, func(n int) ([]domain.Entry, error) {
		return c.store.ReadEntries(ctx, accountID, before, n)
	})
}

// AllHistoryPage 跨所有帳戶取得單頁分錄 (管理員檢視)，由新到舊
func (c *CoreUseCase) AllHistoryPage(ctx context.Context, limit int, before domain.Cursor) (entries []domain.Entry, next domain.Cursor, err error) {
	return readPage(limit, func(n int) ([]domain.Entry, error) {
		return c.store.ReadAllEntries(ctx, before, n)
	})
}

// readPage 多讀一筆判斷是否還有下一頁
func readPage(limit int, read func(n int) ([]domain.Entry, error)) ([]domain.Entry, domain.Cursor, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	entries, err := read(limit + 1)
	if err != nil {
		return nil, 0, domain.WrapStorage("read entries", err)
	}
	var next domain.Cursor
	if len(entries) > limit {
		entries = entries[:limit]
		next = entries[limit-1].Cursor()
	}
	return entries, next, nil
}
