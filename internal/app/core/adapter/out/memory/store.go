package memory

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

// 故障注入用的操作名稱
const (
	OpGetAccount     = "get_account"
	OpCreateAccount  = "create_account"
	OpCompareAndSet  = "compare_and_set_balance"
	OpSetStatus      = "set_status"
	OpAppendEntry    = "append_entry"
	OpFindEntries    = "find_entries"
	OpCommit         = "commit"
	OpReadEntries    = "read_entries"
	OpCreateAdmin    = "create_admin"
	firstAccountID   = int64(1000000001)
	defaultEntrySize = 16
)

// Store 是記憶體版的帳本儲存
//
// 結構:
//
//	accounts: 已提交的帳戶資料
//	entries: 每個帳戶的分錄，依 Sequence 遞增
//	all: 所有分錄，依 Sequence 遞增 (管理員檢視)
//	admins: 管理員，以帳號為 key
//	wal: Write-Ahead Log，每次提交先寫入再套用 (可選)
//	fault: 故障注入 (測試用)
type Store struct {
	mu            sync.RWMutex
	accounts      map[int64]*domain.Account
	entries       map[int64][]domain.Entry
	byCorrelation map[uuid.UUID][]domain.Entry
	all           []domain.Entry
	admins        map[string]*domain.Admin

	sequence      atomic.Uint64
	nextAccountID atomic.Int64
	nextAdminID   atomic.Int64

	wal   *wal.WAL
	fault func(op string) error
}

type Option func(*Store)

// WithWAL 啟用 WAL，NewStore 時會先從 WAL 恢復狀態
func WithWAL(w *wal.WAL) Option {
	return func(s *Store) {
		s.wal = w
	}
}

// WithFaultInjector 每個儲存步驟前呼叫 fn(op)，回傳錯誤即模擬該步驟失敗
func WithFaultInjector(fn func(op string) error) Option {
	return func(s *Store) {
		s.fault = fn
	}
}

// NewStore 建立一個新的記憶體 Store
//
// 參數:
//
//	opts: WithWAL / WithFaultInjector
//
// 回傳:
//
//	*Store: Store 實例
//	error: 初始化錯誤 (如 WAL 恢復失敗)
func NewStore(opts ...Option) (*Store, error) {
	s := &Store{
		accounts:      make(map[int64]*domain.Account),
		entries:       make(map[int64][]domain.Entry),
		byCorrelation: make(map[uuid.UUID][]domain.Entry),
		admins:        make(map[string]*domain.Admin),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.nextAccountID.Store(firstAccountID)
	s.nextAdminID.Store(1)

	if s.wal != nil {
		if err := s.recoverFromWAL(); err != nil {
			return nil, fmt.Errorf("recover from wal: %w", err)
		}
	}
	return s, nil
}

// walRecord 一次提交的內容
type walRecord struct {
	Accounts []domain.Account              `json:"accounts,omitempty"`
	Balances map[int64]int64               `json:"balances,omitempty"`
	Statuses map[int64]domain.AccountStatus `json:"statuses,omitempty"`
	Entries  []domain.Entry                `json:"entries,omitempty"`
	Admins   []domain.Admin                `json:"admins,omitempty"`
}

// recoverFromWAL 從 WAL 檔案恢復帳本狀態
// 只有 NewStore 呼叫，無需 Lock (單執行緒)
func (s *Store) recoverFromWAL() error {
	return s.wal.ReadAll(func(jsonRaw []byte) error {
		var rec walRecord
		if err := json.Unmarshal(jsonRaw, &rec); err != nil {
			return err
		}
		s.apply(&rec)
		return nil
	})
}

// apply 套用一筆提交，呼叫端需持有寫鎖 (或在恢復階段)
func (s *Store) apply(rec *walRecord) {
	for i := range rec.Accounts {
		acc := rec.Accounts[i]
		s.accounts[acc.ID] = &acc
		raise(&s.nextAccountID, acc.ID+1)
	}
	for id, balance := range rec.Balances {
		s.accounts[id].Balance = balance
	}
	for id, status := range rec.Statuses {
		s.accounts[id].Status = status
	}
	for _, e := range rec.Entries {
		s.entries[e.AccountID] = insertBySequence(s.entries[e.AccountID], e)
		s.byCorrelation[e.CorrelationID] = insertBySequence(s.byCorrelation[e.CorrelationID], e)
		s.all = insertBySequence(s.all, e)
		raiseUint(&s.sequence, e.Sequence)
	}
	for i := range rec.Admins {
		admin := rec.Admins[i]
		s.admins[admin.Username] = &admin
		raise(&s.nextAdminID, admin.ID+1)
	}
}

// raise 只往上調整計數器
func raise(v *atomic.Int64, n int64) {
	for {
		cur := v.Load()
		if cur >= n || v.CompareAndSwap(cur, n) {
			return
		}
	}
}

func raiseUint(v *atomic.Uint64, n uint64) {
	for {
		cur := v.Load()
		if cur >= n || v.CompareAndSwap(cur, n) {
			return
		}
	}
}

func insertBySequence(list []domain.Entry, e domain.Entry) []domain.Entry {
	if n := len(list); n == 0 || list[n-1].Sequence < e.Sequence {
		return append(list, e)
	}
	i, _ := slices.BinarySearchFunc(list, e.Sequence, func(x domain.Entry, seq uint64) int {
		return cmp.Compare(x.Sequence, seq)
	})
	return slices.Insert(list, i, e)
}

func (s *Store) injectFault(op string) error {
	if s.fault == nil {
		return nil
	}
	if err := s.fault(op); err != nil {
		return domain.WrapStorage(op, err)
	}
	return nil
}

// Atomic implements usecase.Store.
// fn 內的寫入先暫存在 storeTx，提交時在寫鎖內重新驗證所有 CAS 條件後一次套用
func (s *Store) Atomic(ctx context.Context, fn func(tx usecase.StoreTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := newStoreTx(s)
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *storeTx) error {
	if err := s.injectFault(OpCommit); err != nil {
		return err
	}
	if tx.empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// 1. 重新驗證 (optimistic)
	for _, acc := range tx.created {
		if _, ok := s.accounts[acc.ID]; ok {
			return domain.ErrAccountAlreadyExists
		}
	}
	for _, admin := range tx.admins {
		if _, ok := s.admins[admin.Username]; ok {
			return domain.ErrAdminAlreadyExists
		}
	}
	for id, base := range tx.baseBalance {
		if s.accounts[id].Balance != base {
			return domain.ErrBalanceConflict
		}
	}
	for id, base := range tx.baseStatus {
		if s.accounts[id].Status != base {
			return domain.ErrBalanceConflict
		}
	}

	rec := tx.record()

	// 2. 寫入 WAL (Critical Path)
	if s.wal != nil {
		if err := s.wal.Write(rec); err != nil {
			return &domain.StorageError{Op: "wal write", Err: fmt.Errorf("%w: %v", domain.ErrWALWriteFailed, err)}
		}
	}

	// 3. 套用
	s.apply(rec)
	return nil
}

// GetAccount implements usecase.Store.
func (s *Store) GetAccount(ctx context.Context, accountID int64) (domain.Account, error) {
	if err := s.injectFault(OpGetAccount); err != nil {
		return domain.Account{}, err
	}
	return s.committedAccount(accountID)
}

func (s *Store) committedAccount(accountID int64) (domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return *acc, nil
}

// ListAccounts implements usecase.Store.
func (s *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]domain.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		list = append(list, *acc)
	}
	slices.SortFunc(list, func(a, b domain.Account) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return list, nil
}

// ReadEntries implements usecase.Store.
func (s *Store) ReadEntries(ctx context.Context, accountID int64, before domain.Cursor, limit int) ([]domain.Entry, error) {
	if err := s.injectFault(OpReadEntries); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return descending(s.entries[accountID], before, limit), nil
}

// ReadAllEntries implements usecase.Store.
func (s *Store) ReadAllEntries(ctx context.Context, before domain.Cursor, limit int) ([]domain.Entry, error) {
	if err := s.injectFault(OpReadEntries); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return descending(s.all, before, limit), nil
}

// descending 由 list (Sequence 遞增) 取出 Sequence < before 的最新 limit 筆，由新到舊
func descending(list []domain.Entry, before domain.Cursor, limit int) []domain.Entry {
	end := len(list)
	if before > 0 {
		end, _ = slices.BinarySearchFunc(list, uint64(before), func(x domain.Entry, seq uint64) int {
			return cmp.Compare(x.Sequence, seq)
		})
	}

	size := end
	if limit > 0 && limit < size {
		size = limit
	}
	out := make([]domain.Entry, 0, size)
	for i := end - 1; i >= 0 && len(out) < size; i-- {
		out = append(out, list[i])
	}
	return out
}

// GetAdmin implements usecase.Store.
func (s *Store) GetAdmin(ctx context.Context, username string) (domain.Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	admin, ok := s.admins[username]
	if !ok {
		return domain.Admin{}, domain.ErrAdminNotFound
	}
	return *admin, nil
}

// storeTx 暫存 Atomic 內的所有寫入
type storeTx struct {
	store       *Store
	created     []*domain.Account
	balances    map[int64]int64
	statuses    map[int64]domain.AccountStatus
	baseBalance map[int64]int64
	baseStatus  map[int64]domain.AccountStatus
	entries     []domain.Entry
	admins      []*domain.Admin
}

func newStoreTx(s *Store) *storeTx {
	return &storeTx{
		store:       s,
		balances:    make(map[int64]int64),
		statuses:    make(map[int64]domain.AccountStatus),
		baseBalance: make(map[int64]int64),
		baseStatus:  make(map[int64]domain.AccountStatus),
		entries:     make([]domain.Entry, 0, defaultEntrySize),
	}
}

func (tx *storeTx) empty() bool {
	return len(tx.created) == 0 && len(tx.balances) == 0 && len(tx.statuses) == 0 &&
		len(tx.entries) == 0 && len(tx.admins) == 0
}

func (tx *storeTx) record() *walRecord {
	rec := &walRecord{
		Balances: tx.balances,
		Statuses: tx.statuses,
		Entries:  tx.entries,
	}
	for _, acc := range tx.created {
		rec.Accounts = append(rec.Accounts, *acc)
	}
	for _, admin := range tx.admins {
		rec.Admins = append(rec.Admins, *admin)
	}
	return rec
}

func (tx *storeTx) createdAccount(id int64) *domain.Account {
	for _, acc := range tx.created {
		if acc.ID == id {
			return acc
		}
	}
	return nil
}

// GetAccount 回傳已提交資料加上本交易暫存的修改
func (tx *storeTx) GetAccount(ctx context.Context, accountID int64) (domain.Account, error) {
	if err := tx.store.injectFault(OpGetAccount); err != nil {
		return domain.Account{}, err
	}
	var acc domain.Account
	if created := tx.createdAccount(accountID); created != nil {
		acc = *created
	} else {
		committed, err := tx.store.committedAccount(accountID)
		if err != nil {
			return domain.Account{}, err
		}
		acc = committed
	}
	if balance, ok := tx.balances[accountID]; ok {
		acc.Balance = balance
	}
	if status, ok := tx.statuses[accountID]; ok {
		acc.Status = status
	}
	return acc, nil
}

func (tx *storeTx) CreateAccount(ctx context.Context, account *domain.Account) error {
	if err := tx.store.injectFault(OpCreateAccount); err != nil {
		return err
	}
	if account.ID == 0 {
		account.ID = tx.allocateAccountID()
	}
	if tx.createdAccount(account.ID) != nil {
		return domain.ErrAccountAlreadyExists
	}
	if _, err := tx.store.committedAccount(account.ID); err == nil {
		return domain.ErrAccountAlreadyExists
	}
	acc := *account
	tx.created = append(tx.created, &acc)
	return nil
}

// allocateAccountID 跳過已提交或本交易已建立的 ID
// 提交前仍可能被指定同 ID 的開戶搶先，commit 時回傳 ErrAccountAlreadyExists
func (tx *storeTx) allocateAccountID() int64 {
	for {
		id := tx.store.nextAccountID.Add(1) - 1
		if tx.createdAccount(id) != nil {
			continue
		}
		if _, err := tx.store.committedAccount(id); err == nil {
			continue
		}
		return id
	}
}

func (tx *storeTx) CompareAndSetBalance(ctx context.Context, accountID int64, expected, next int64) error {
	if err := tx.store.injectFault(OpCompareAndSet); err != nil {
		return err
	}
	current, err := tx.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if current.Balance != expected {
		return domain.ErrBalanceConflict
	}
	if next < 0 {
		return domain.ErrInsufficientFunds
	}
	if _, seen := tx.baseBalance[accountID]; !seen && tx.createdAccount(accountID) == nil {
		tx.baseBalance[accountID] = expected
	}
	tx.balances[accountID] = next
	return nil
}

func (tx *storeTx) SetStatus(ctx context.Context, accountID int64, from, to domain.AccountStatus) error {
	if err := tx.store.injectFault(OpSetStatus); err != nil {
		return err
	}
	current, err := tx.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if current.Status != from {
		return domain.ErrInvalidStatusTransition
	}
	if _, seen := tx.baseStatus[accountID]; !seen && tx.createdAccount(accountID) == nil {
		tx.baseStatus[accountID] = from
	}
	tx.statuses[accountID] = to
	return nil
}

// AppendEntry 分配 Sequence 並暫存分錄
// 同一帳戶的寫入由帳戶鎖序列化，所以每個帳戶的 Sequence 依提交順序遞增
func (tx *storeTx) AppendEntry(ctx context.Context, entry *domain.Entry) error {
	if err := tx.store.injectFault(OpAppendEntry); err != nil {
		return err
	}
	entry.Sequence = tx.store.sequence.Add(1)
	tx.entries = append(tx.entries, *entry)
	return nil
}

func (tx *storeTx) FindEntriesByCorrelation(ctx context.Context, correlationID uuid.UUID) ([]domain.Entry, error) {
	if err := tx.store.injectFault(OpFindEntries); err != nil {
		return nil, err
	}
	tx.store.mu.RLock()
	found := slices.Clone(tx.store.byCorrelation[correlationID])
	tx.store.mu.RUnlock()

	for _, e := range tx.entries {
		if e.CorrelationID == correlationID {
			found = append(found, e)
		}
	}
	return found, nil
}

func (tx *storeTx) CreateAdmin(ctx context.Context, admin *domain.Admin) error {
	if err := tx.store.injectFault(OpCreateAdmin); err != nil {
		return err
	}
	for _, staged := range tx.admins {
		if staged.Username == admin.Username {
			return domain.ErrAdminAlreadyExists
		}
	}
	if _, err := tx.store.GetAdmin(ctx, admin.Username); err == nil {
		return domain.ErrAdminAlreadyExists
	}
	admin.ID = tx.store.nextAdminID.Add(1) - 1
	staged := *admin
	tx.admins = append(tx.admins, &staged)
	return nil
}

var (
	_ usecase.Store   = (*Store)(nil)
	_ usecase.StoreTx = (*storeTx)(nil)
)
