package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount 金額必須為正整數 (最小貨幣單位)
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds 餘額不足
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound 找不到帳戶
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountInactive 帳戶非 active 狀態
	ErrAccountInactive = errors.New("account inactive")

	// ErrAccountAlreadyExists 帳戶已存在
	ErrAccountAlreadyExists = errors.New("account already exists")

	// ErrSameAccount 轉出與轉入帳戶相同
	ErrSameAccount = errors.New("source and destination account are the same")

	// ErrLockTimeout 等待帳戶鎖逾時，呼叫端可重試
	ErrLockTimeout = errors.New("lock timeout")

	// ErrStorageFailure 底層儲存錯誤，以 StorageError 包裝原始錯誤
	ErrStorageFailure = errors.New("storage failure")

	// ErrBalanceConflict compare-and-set 時餘額已被其他寫入者修改
	ErrBalanceConflict = errors.New("balance changed concurrently")

	// ErrInvalidCredentials 帳號或 PIN 錯誤
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidStatusTransition 不允許的狀態轉換
	ErrInvalidStatusTransition = errors.New("invalid account status transition")

	// ErrAccountNotEmpty 結清帳戶前餘額必須為 0
	ErrAccountNotEmpty = errors.New("account balance is not zero")

	// ErrWALWriteFailed 寫入 WAL 失敗
	ErrWALWriteFailed = errors.New("wal write failed")

	// ErrInvalidOwner 戶名不可為空
	ErrInvalidOwner = errors.New("owner name is required")

	// ErrInvalidPIN PIN 必須為 4 到 12 位數字
	ErrInvalidPIN = errors.New("pin must be 4 to 12 digits")

	// ErrTransactionConflict 交易 ID 已被另一筆內容不同的交易使用
	ErrTransactionConflict = errors.New("transaction id already used by a different transaction")

	// ErrAdminAlreadyExists 管理員帳號已存在
	ErrAdminAlreadyExists = errors.New("admin already exists")

	// ErrAdminNotFound 找不到管理員
	ErrAdminNotFound = errors.New("admin not found")

	// ErrInvalidUsername 管理員帳號不可為空
	ErrInvalidUsername = errors.New("username is required")

	// ErrInvalidPassword 管理員密碼為 1 到 72 bytes (bcrypt 上限)
	ErrInvalidPassword = errors.New("password must be 1 to 72 bytes")
)

// StorageError 包裝儲存層錯誤，errors.Is(err, ErrStorageFailure) 成立
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}

// WrapStorage 將非 domain 錯誤包裝為 StorageError，domain 錯誤原樣回傳
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsRetryable 只有 ErrLockTimeout 可以直接重試
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

var domainErrors = []error{
	ErrInvalidAmount,
	ErrInsufficientFunds,
	ErrAccountNotFound,
	ErrAccountInactive,
	ErrAccountAlreadyExists,
	ErrSameAccount,
	ErrLockTimeout,
	ErrStorageFailure,
	ErrBalanceConflict,
	ErrInvalidCredentials,
	ErrInvalidStatusTransition,
	ErrAccountNotEmpty,
	ErrWALWriteFailed,
	ErrInvalidOwner,
	ErrInvalidPIN,
	ErrTransactionConflict,
	ErrAdminAlreadyExists,
	ErrAdminNotFound,
	ErrInvalidUsername,
	ErrInvalidPassword,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
