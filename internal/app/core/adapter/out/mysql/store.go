package mysql

import (
	"context"
	"errors"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// MySQL error numbers
const (
	errDuplicateEntry  = 1062
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// sqlAccount 對應資料庫的 accounts 表
type sqlAccount struct {
	ID        int64  `gorm:"primaryKey"`
	Owner     string `gorm:"size:128;not null"`
	Balance   int64  `gorm:"not null;default:0"`
	Status    uint8  `gorm:"not null"`
	PinHash   []byte `gorm:"type:varbinary(72)"`
	CreatedAt int64  `gorm:"autoCreateTime:nano"`
	UpdatedAt int64  `gorm:"autoUpdateTime:nano"` // CAS 更新時一併刷新
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

// sqlEntry 對應資料庫的 ledger_entries 表
// 自增 ID 即為 domain.Entry.Sequence
type sqlEntry struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	EntryID       []byte `gorm:"column:entry_id;type:binary(16);uniqueIndex"`
	AccountID     int64  `gorm:"index;not null"`
	Kind          uint8  `gorm:"not null"`
	Amount        int64  `gorm:"not null"`
	BalanceAfter  int64  `gorm:"not null"`
	CorrelationID []byte `gorm:"column:correlation_id;type:binary(16);index"`
	CreatedAt     int64  `gorm:"autoCreateTime:false"`
}

func (*sqlEntry) TableName() string {
	return "ledger_entries"
}

// sqlAdmin 對應資料庫的 admins 表
type sqlAdmin struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Username     string `gorm:"size:64;not null;uniqueIndex"`
	PasswordHash []byte `gorm:"type:varbinary(72);not null"`
	CreatedAt    int64  `gorm:"autoCreateTime:false"`
}

func (*sqlAdmin) TableName() string {
	return "admins"
}

func (r *sqlAdmin) toDomain() domain.Admin {
	return domain.Admin{
		ID:           r.ID,
		Username:     r.Username,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt,
	}
}

func toSQLAccount(a *domain.Account) sqlAccount {
	return sqlAccount{
		ID:        a.ID,
		Owner:     a.Owner,
		Balance:   a.Balance,
		Status:    uint8(a.Status),
		PinHash:   a.PinHash,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func (r *sqlAccount) toDomain() domain.Account {
	return domain.Account{
		ID:        r.ID,
		Owner:     r.Owner,
		Balance:   r.Balance,
		Status:    domain.AccountStatus(r.Status),
		PinHash:   r.PinHash,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (r *sqlEntry) toDomain() domain.Entry {
	e := domain.Entry{
		Sequence:     r.ID,
		AccountID:    r.AccountID,
		Kind:         domain.EntryKind(r.Kind),
		Amount:       r.Amount,
		BalanceAfter: r.BalanceAfter,
		CreatedAt:    r.CreatedAt,
	}
	copy(e.ID[:], r.EntryID)
	copy(e.CorrelationID[:], r.CorrelationID)
	return e
}

// Store 是 MySQL 版的帳本儲存
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db: db,
	}
}

// Migrate 建立 / 更新資料表
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&sqlAccount{}, &sqlEntry{}, &sqlAdmin{})
}

// Atomic implements usecase.Store.
// fn 回傳錯誤時 gorm 會 rollback；InnoDB deadlock / lock wait timeout 視為
// ErrBalanceConflict，讓 core 重試整個交易
func (s *Store) Atomic(ctx context.Context, fn func(tx usecase.StoreTx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&storeTx{db: tx})
	})
	if isMySQLError(err, errDeadlock, errLockWaitTimeout) {
		return domain.ErrBalanceConflict
	}
	return err
}

// GetAccount implements usecase.Store.
// 一般讀取走 InnoDB consistent read，不加鎖
func (s *Store) GetAccount(ctx context.Context, accountID int64) (domain.Account, error) {
	var row sqlAccount
	err := s.db.WithContext(ctx).Where("id = ?", accountID).Take(&row).Error
	if err != nil {
		return domain.Account{}, accountError("get account", err)
	}
	return row.toDomain(), nil
}

// ListAccounts implements usecase.Store.
func (s *Store) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	var rows []sqlAccount
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, domain.WrapStorage("list accounts", err)
	}
	accounts := make([]domain.Account, 0, len(rows))
	for i := range rows {
		accounts = append(accounts, rows[i].toDomain())
	}
	return accounts, nil
}

// ReadEntries implements usecase.Store.
func (s *Store) ReadEntries(ctx context.Context, accountID int64, before domain.Cursor, limit int) ([]domain.Entry, error) {
	return readDescending(s.db.WithContext(ctx).Where("account_id = ?", accountID), before, limit)
}

// ReadAllEntries implements usecase.Store.
func (s *Store) ReadAllEntries(ctx context.Context, before domain.Cursor, limit int) ([]domain.Entry, error) {
	return readDescending(s.db.WithContext(ctx), before, limit)
}

func readDescending(q *gorm.DB, before domain.Cursor, limit int) ([]domain.Entry, error) {
	if before > 0 {
		q = q.Where("id < ?", uint64(before))
	}
	q = q.Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []sqlEntry
	if err := q.Find(&rows).Error; err != nil {
		return nil, domain.WrapStorage("read entries", err)
	}
	return toDomainEntries(rows), nil
}

// GetAdmin implements usecase.Store.
func (s *Store) GetAdmin(ctx context.Context, username string) (domain.Admin, error) {
	var row sqlAdmin
	err := s.db.WithContext(ctx).Where("username = ?", username).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Admin{}, domain.ErrAdminNotFound
	}
	if err != nil {
		return domain.Admin{}, domain.WrapStorage("get admin", err)
	}
	return row.toDomain(), nil
}

func toDomainEntries(rows []sqlEntry) []domain.Entry {
	entries := make([]domain.Entry, 0, len(rows))
	for i := range rows {
		entries = append(entries, rows[i].toDomain())
	}
	return entries
}

// storeTx 包裝 gorm 交易
type storeTx struct {
	db *gorm.DB
}

// GetAccount 取得鎖定帳號 悲觀鎖 (SELECT ... FOR UPDATE)
func (tx *storeTx) GetAccount(ctx context.Context, accountID int64) (domain.Account, error) {
	var row sqlAccount
	err := tx.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", accountID).
		Take(&row).Error
	if err != nil {
		return domain.Account{}, accountError("lock account", err)
	}
	return row.toDomain(), nil
}

func (tx *storeTx) CreateAccount(ctx context.Context, account *domain.Account) error {
	row := toSQLAccount(account)
	if err := tx.db.Create(&row).Error; err != nil {
		if isDuplicate(err) {
			return domain.ErrAccountAlreadyExists
		}
		return domain.WrapStorage("create account", err)
	}
	account.ID = row.ID
	return nil
}

// CompareAndSetBalance UPDATE ... WHERE id = ? AND balance = ?，沒有更新到任何列即為衝突
func (tx *storeTx) CompareAndSetBalance(ctx context.Context, accountID int64, expected, next int64) error {
	if next < 0 {
		return domain.ErrInsufficientFunds
	}
	res := tx.db.Model(&sqlAccount{}).
		Where("id = ? AND balance = ?", accountID, expected).
		Update("balance", next)
	if res.Error != nil {
		return domain.WrapStorage("compare and set balance", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrBalanceConflict
	}
	return nil
}

func (tx *storeTx) SetStatus(ctx context.Context, accountID int64, from, to domain.AccountStatus) error {
	res := tx.db.Model(&sqlAccount{}).
		Where("id = ? AND status = ?", accountID, uint8(from)).
		Update("status", uint8(to))
	if res.Error != nil {
		return domain.WrapStorage("set status", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrInvalidStatusTransition
	}
	return nil
}

// AppendEntry 建立分錄，自增 ID 寫回 entry.Sequence
func (tx *storeTx) AppendEntry(ctx context.Context, entry *domain.Entry) error {
	row := sqlEntry{
		EntryID:       entry.ID[:],
		AccountID:     entry.AccountID,
		Kind:          uint8(entry.Kind),
		Amount:        entry.Amount,
		BalanceAfter:  entry.BalanceAfter,
		CorrelationID: entry.CorrelationID[:],
		CreatedAt:     entry.CreatedAt,
	}
	if err := tx.db.Create(&row).Error; err != nil {
		return domain.WrapStorage("append entry", err)
	}
	entry.Sequence = row.ID
	return nil
}

// FindEntriesByCorrelation 先檢查是否有這筆交易記錄
func (tx *storeTx) FindEntriesByCorrelation(ctx context.Context, correlationID uuid.UUID) ([]domain.Entry, error) {
	var rows []sqlEntry
	err := tx.db.Where("correlation_id = ?", correlationID[:]).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, domain.WrapStorage("find entries", err)
	}
	return toDomainEntries(rows), nil
}

func (tx *storeTx) CreateAdmin(ctx context.Context, admin *domain.Admin) error {
	row := sqlAdmin{
		Username:     admin.Username,
		PasswordHash: admin.PasswordHash,
		CreatedAt:    admin.CreatedAt,
	}
	if err := tx.db.Create(&row).Error; err != nil {
		if isDuplicate(err) {
			return domain.ErrAdminAlreadyExists
		}
		return domain.WrapStorage("create admin", err)
	}
	admin.ID = row.ID
	return nil
}

func accountError(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrAccountNotFound
	}
	return domain.WrapStorage(op, err)
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return isMySQLError(err, errDuplicateEntry)
}

func isMySQLError(err error, numbers ...uint16) bool {
	var myErr *mysqldriver.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	for _, n := range numbers {
		if myErr.Number == n {
			return true
		}
	}
	return false
}

var (
	_ usecase.Store   = (*Store)(nil)
	_ usecase.StoreTx = (*storeTx)(nil)
)
