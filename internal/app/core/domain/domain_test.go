package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountDepositWithdraw(t *testing.T) {
	acc := NewAccount(1, "alice", nil)
	acc.Balance = 10000

	got, err := acc.Deposit(500)
	require.NoError(t, err)
	assert.Equal(t, int64(10500), got)
	assert.Equal(t, int64(10000), acc.Balance, "Deposit must not mutate the account")

	_, err = acc.Deposit(0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = acc.Withdraw(20000)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = acc.Withdraw(-1)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	got, err = acc.Withdraw(10000)
	require.NoError(t, err)
	assert.Zero(t, got)
}

func TestAccountDepositOverflow(t *testing.T) {
	acc := NewAccount(1, "alice", nil)
	acc.Balance = maxBalance - 1

	_, err := acc.Deposit(2)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAccountStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to AccountStatus
		allowed  bool
	}{
		{AccountStatusActive, AccountStatusFrozen, true},
		{AccountStatusActive, AccountStatusClosed, true},
		{AccountStatusFrozen, AccountStatusActive, true},
		{AccountStatusFrozen, AccountStatusClosed, true},
		{AccountStatusClosed, AccountStatusActive, false},
		{AccountStatusClosed, AccountStatusFrozen, false},
		{AccountStatusActive, AccountStatusActive, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}

	s, ok := ParseAccountStatus("frozen")
	assert.True(t, ok)
	assert.Equal(t, AccountStatusFrozen, s)
	_, ok = ParseAccountStatus("gone")
	assert.False(t, ok)
}

func TestTransactionGetLockIDs(t *testing.T) {
	tr := &Transaction{Type: TransactionTypeTransfer, From: 9, To: 3}
	assert.Equal(t, []int64{3, 9}, tr.GetLockIDs())

	tr = &Transaction{Type: TransactionTypeTransfer, From: 3, To: 9}
	assert.Equal(t, []int64{3, 9}, tr.GetLockIDs())

	tr = &Transaction{Type: TransactionTypeDeposit, To: 5}
	assert.Equal(t, []int64{5}, tr.GetLockIDs())

	tr = &Transaction{Type: TransactionTypeWithdraw, From: 7}
	assert.Equal(t, []int64{7}, tr.GetLockIDs())
}

func TestTransactionValidate(t *testing.T) {
	assert.ErrorIs(t, (&Transaction{Type: TransactionTypeDeposit, To: 1}).Validate(), ErrInvalidAmount)
	assert.ErrorIs(t, (&Transaction{Type: TransactionTypeTransfer, From: 1, To: 1, Amount: 5}).Validate(), ErrSameAccount)
	assert.NoError(t, (&Transaction{Type: TransactionTypeTransfer, From: 1, To: 2, Amount: 5}).Validate())
}

func TestTransactionMatchesEntries(t *testing.T) {
	transfer := &Transaction{Type: TransactionTypeTransfer, From: 1, To: 2, Amount: 50}
	legs := []Entry{
		{AccountID: 1, Kind: EntryKindTransferOut, Amount: 50},
		{AccountID: 2, Kind: EntryKindTransferIn, Amount: 50},
	}
	assert.True(t, transfer.MatchesEntries(legs))
	assert.False(t, transfer.MatchesEntries(legs[:1]))
	assert.False(t, (&Transaction{Type: TransactionTypeTransfer, From: 2, To: 1, Amount: 50}).MatchesEntries(legs))
	assert.False(t, (&Transaction{Type: TransactionTypeTransfer, From: 1, To: 2, Amount: 60}).MatchesEntries(legs))

	deposit := []Entry{{AccountID: 1, Kind: EntryKindDeposit, Amount: 50}}
	assert.True(t, (&Transaction{Type: TransactionTypeDeposit, To: 1, Amount: 50}).MatchesEntries(deposit))
	assert.False(t, (&Transaction{Type: TransactionTypeWithdraw, From: 1, Amount: 50}).MatchesEntries(deposit))
	assert.False(t, (&Transaction{Type: TransactionTypeDeposit, To: 2, Amount: 50}).MatchesEntries(deposit))
}

func TestStorageError(t *testing.T) {
	cause := errors.New("disk on fire")
	err := WrapStorage("append entry", cause)

	assert.ErrorIs(t, err, ErrStorageFailure)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "append entry")

	// domain 錯誤不應二次包裝
	assert.Same(t, ErrAccountNotFound, WrapStorage("get account", ErrAccountNotFound))
	assert.Nil(t, WrapStorage("noop", nil))
	assert.False(t, IsRetryable(err))
	assert.True(t, IsRetryable(fmt.Errorf("withdraw: %w", ErrLockTimeout)))
}
