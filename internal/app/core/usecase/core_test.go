package usecase_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type harness struct {
	store    *memory.Store
	core     *usecase.CoreUseCase
	accounts *usecase.AccountUseCase
}

func newHarness(t *testing.T, storeOpts []memory.Option, coreOpts ...usecase.Option) *harness {
	t.Helper()
	store, err := memory.NewStore(storeOpts...)
	require.NoError(t, err)
	core := usecase.NewCoreUseCase(store, append([]usecase.Option{usecase.WithLogger(discard)}, coreOpts...)...)
	return &harness{
		store:    store,
		core:     core,
		accounts: usecase.NewAccountUseCase(store, core, usecase.WithBcryptCost(bcrypt.MinCost)),
	}
}

func (h *harness) open(t *testing.T, id, balance int64) {
	t.Helper()
	_, err := h.accounts.Register(context.Background(), usecase.RegisterRequest{
		AccountID:      id,
		Owner:          "owner",
		PIN:            "1234",
		InitialBalance: balance,
	})
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, id int64) int64 {
	t.Helper()
	b, err := h.core.GetAccountBalance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func collect(t *testing.T, h *harness, id int64, limit int, before domain.Cursor) []domain.Entry {
	t.Helper()
	var out []domain.Entry
	for e, err := range h.core.History(context.Background(), id, limit, before) {
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	const a, b = int64(1), int64(2)
	h.open(t, a, 10000)
	h.open(t, b, 0)

	dep, err := h.core.Deposit(ctx, a, 500)
	require.NoError(t, err)
	assert.Equal(t, domain.EntryKindDeposit, dep.Kind)
	assert.Equal(t, int64(500), dep.Amount)
	assert.Equal(t, int64(10500), dep.BalanceAfter)
	assert.Equal(t, int64(10500), h.balance(t, a))

	_, err = h.core.Withdraw(ctx, a, 20000)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(10500), h.balance(t, a))

	out, in, err := h.core.Transfer(ctx, a, b, 10500)
	require.NoError(t, err)
	assert.Zero(t, h.balance(t, a))
	assert.Equal(t, int64(10500), h.balance(t, b))
	assert.Equal(t, domain.EntryKindTransferOut, out.Kind)
	assert.Equal(t, domain.EntryKindTransferIn, in.Kind)
	assert.Equal(t, out.CorrelationID, in.CorrelationID)
	assert.NotEqual(t, out.ID, in.ID)
	assert.Zero(t, out.BalanceAfter)
	assert.Equal(t, int64(10500), in.BalanceAfter)

	// a: 開戶存款、deposit、transfer_out
	history := collect(t, h, a, 0, 0)
	require.Len(t, history, 3)
	assert.Equal(t, domain.EntryKindTransferOut, history[0].Kind)
	assert.Equal(t, domain.EntryKindDeposit, history[1].Kind)
	assert.Equal(t, int64(10000), history[2].Amount)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.open(t, 1, 100)

	_, err := h.core.Deposit(ctx, 1, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.core.Withdraw(ctx, 1, -5)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.core.Deposit(ctx, 404, 10)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	_, _, err = h.core.Transfer(ctx, 1, 1, 10)
	assert.ErrorIs(t, err, domain.ErrSameAccount)
	_, _, err = h.core.Transfer(ctx, 1, 404, 10)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	_, _, err = h.core.Transfer(ctx, 404, 1, 10)
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	assert.Equal(t, int64(100), h.balance(t, 1))
	assert.Len(t, collect(t, h, 1, 0, 0), 1)
}

func TestInactiveAccountsRejectMoneyMovement(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.open(t, 1, 100)
	h.open(t, 2, 100)

	_, err := h.accounts.Freeze(ctx, 2)
	require.NoError(t, err)

	_, err = h.core.Deposit(ctx, 2, 10)
	assert.ErrorIs(t, err, domain.ErrAccountInactive)
	_, err = h.core.Withdraw(ctx, 2, 10)
	assert.ErrorIs(t, err, domain.ErrAccountInactive)
	_, _, err = h.core.Transfer(ctx, 1, 2, 10)
	assert.ErrorIs(t, err, domain.ErrAccountInactive)
	_, _, err = h.core.Transfer(ctx, 2, 1, 10)
	assert.ErrorIs(t, err, domain.ErrAccountInactive)

	assert.Equal(t, int64(100), h.balance(t, 1))
	assert.Equal(t, int64(100), h.balance(t, 2))

	_, err = h.accounts.Unfreeze(ctx, 2)
	require.NoError(t, err)
	_, err = h.core.Deposit(ctx, 2, 10)
	assert.NoError(t, err)
}

func TestConcurrentWithdrawExactlyOneSucceeds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, usecase.WithLockTimeout(10*time.Second))
	const amount = int64(5000)
	h.open(t, 1, amount)

	const n = 64
	var (
		wg           sync.WaitGroup
		successes    atomic.Int32
		insufficient atomic.Int32
		start        = make(chan struct{})
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, err := h.core.Withdraw(ctx, 1, amount)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, domain.ErrInsufficientFunds):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(n-1), insufficient.Load())
	assert.Zero(t, h.balance(t, 1))
}

func TestConcurrentTransfersConserveMoney(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, usecase.WithLockTimeout(10*time.Second))
	ids := []int64{1, 2, 3, 4}
	for _, id := range ids {
		h.open(t, id, 1000)
	}

	var wg sync.WaitGroup
	var committed atomic.Int32
	for i := 0; i < 400; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from := ids[i%len(ids)]
			to := ids[(i*3+1)%len(ids)]
			if from == to {
				to = ids[(i+1)%len(ids)]
			}
			_, _, err := h.core.Transfer(ctx, from, to, int64(i%7+1)*10)
			if err == nil {
				committed.Add(1)
				return
			}
			if !errors.Is(err, domain.ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	var total int64
	for _, id := range ids {
		b := h.balance(t, id)
		assert.GreaterOrEqual(t, b, int64(0))
		total += b
	}
	assert.Equal(t, int64(4000), total)

	// 每筆成功轉帳兩筆分錄，加上四筆開戶存款
	var entries int
	for _, id := range ids {
		entries += len(collect(t, h, id, 0, 0))
	}
	assert.Equal(t, int(committed.Load())*2+len(ids), entries)
}

func TestTransferAtomicUnderFaultInjection(t *testing.T) {
	ctx := context.Background()
	var casCalls atomic.Int32
	var armed atomic.Bool
	boom := errors.New("connection reset")

	// 第二次 CAS (入帳) 失敗：扣款已暫存，入帳前故障
	h := newHarness(t, []memory.Option{memory.WithFaultInjector(func(op string) error {
		if !armed.Load() || op != memory.OpCompareAndSet {
			return nil
		}
		if casCalls.Add(1) == 2 {
			return boom
		}
		return nil
	})})
	h.open(t, 1, 1000)
	h.open(t, 2, 0)

	armed.Store(true)
	_, _, err := h.core.Transfer(ctx, 1, 2, 600)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorageFailure)
	assert.ErrorIs(t, err, boom)
	armed.Store(false)

	assert.Equal(t, int64(1000), h.balance(t, 1))
	assert.Zero(t, h.balance(t, 2))
	assert.Len(t, collect(t, h, 1, 0, 0), 1)
	assert.Empty(t, collect(t, h, 2, 0, 0))

	// 恢復後可以正常完成
	_, _, err = h.core.Transfer(ctx, 1, 2, 600)
	require.NoError(t, err)
	assert.Equal(t, int64(400), h.balance(t, 1))
	assert.Equal(t, int64(600), h.balance(t, 2))
}

func TestCommitFailureLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	var armed atomic.Bool
	h := newHarness(t, []memory.Option{memory.WithFaultInjector(func(op string) error {
		if armed.Load() && op == memory.OpCommit {
			return errors.New("fsync failed")
		}
		return nil
	})})
	h.open(t, 1, 100)

	armed.Store(true)
	_, err := h.core.Withdraw(ctx, 1, 40)
	assert.ErrorIs(t, err, domain.ErrStorageFailure)
	assert.False(t, domain.IsRetryable(err))
	armed.Store(false)

	assert.Equal(t, int64(100), h.balance(t, 1))
}

func TestIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.open(t, 1, 1000)
	h.open(t, 2, 0)

	id := uuid.New()
	out1, in1, err := h.core.Transfer(ctx, 1, 2, 300, usecase.WithTransactionID(id))
	require.NoError(t, err)
	assert.Equal(t, id, out1.CorrelationID)

	out2, in2, err := h.core.Transfer(ctx, 1, 2, 300, usecase.WithTransactionID(id))
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
	assert.Equal(t, in1, in2)

	assert.Equal(t, int64(700), h.balance(t, 1))
	assert.Equal(t, int64(300), h.balance(t, 2))

	depID := uuid.New()
	e1, err := h.core.Deposit(ctx, 2, 5, usecase.WithTransactionID(depID))
	require.NoError(t, err)
	e2, err := h.core.Deposit(ctx, 2, 5, usecase.WithTransactionID(depID))
	require.NoError(t, err)
	assert.Equal(t, e1.ID, e2.ID)
	assert.Equal(t, int64(305), h.balance(t, 2))
}

func TestReusedTransactionIDForDifferentOperation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.open(t, 1, 1000)
	h.open(t, 2, 0)

	id := uuid.New()
	_, err := h.core.Deposit(ctx, 1, 100, usecase.WithTransactionID(id))
	require.NoError(t, err)

	_, _, err = h.core.Transfer(ctx, 1, 2, 100, usecase.WithTransactionID(id))
	assert.ErrorIs(t, err, domain.ErrTransactionConflict)
	assert.False(t, domain.IsRetryable(err))

	_, err = h.core.Withdraw(ctx, 1, 100, usecase.WithTransactionID(id))
	assert.ErrorIs(t, err, domain.ErrTransactionConflict)

	// 同類型但帳戶或金額不同也不能重送
	_, err = h.core.Deposit(ctx, 2, 100, usecase.WithTransactionID(id))
	assert.ErrorIs(t, err, domain.ErrTransactionConflict)
	_, err = h.core.Deposit(ctx, 1, 70, usecase.WithTransactionID(id))
	assert.ErrorIs(t, err, domain.ErrTransactionConflict)

	transferID := uuid.New()
	_, _, err = h.core.Transfer(ctx, 1, 2, 50, usecase.WithTransactionID(transferID))
	require.NoError(t, err)
	_, _, err = h.core.Transfer(ctx, 2, 1, 50, usecase.WithTransactionID(transferID))
	assert.ErrorIs(t, err, domain.ErrTransactionConflict)
	_, err = h.core.Deposit(ctx, 2, 50, usecase.WithTransactionID(transferID))
	assert.ErrorIs(t, err, domain.ErrTransactionConflict)

	assert.Equal(t, int64(1050), h.balance(t, 1))
	assert.Equal(t, int64(50), h.balance(t, 2))
	assert.Len(t, collect(t, h, 1, 0, 0), 3)
}

// blockingStore 在第一次 Atomic 時停住，用來佔住帳戶鎖
type blockingStore struct {
	usecase.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingStore) Atomic(ctx context.Context, fn func(tx usecase.StoreTx) error) error {
	first := false
	b.once.Do(func() { first = true })
	if first {
		close(b.entered)
		<-b.release
	}
	return b.Store.Atomic(ctx, fn)
}

func TestLockTimeout(t *testing.T) {
	ctx := context.Background()
	mem, err := memory.NewStore()
	require.NoError(t, err)
	seed := usecase.NewCoreUseCase(mem, usecase.WithLogger(discard))
	_, err = usecase.NewAccountUseCase(mem, seed, usecase.WithBcryptCost(bcrypt.MinCost)).
		Register(ctx, usecase.RegisterRequest{AccountID: 1, Owner: "a", PIN: "1234", InitialBalance: 100})
	require.NoError(t, err)
	_, err = usecase.NewAccountUseCase(mem, seed, usecase.WithBcryptCost(bcrypt.MinCost)).
		Register(ctx, usecase.RegisterRequest{AccountID: 2, Owner: "b", PIN: "1234"})
	require.NoError(t, err)

	bs := &blockingStore{Store: mem, entered: make(chan struct{}), release: make(chan struct{})}
	core := usecase.NewCoreUseCase(bs, usecase.WithLogger(discard), usecase.WithLockTimeout(30*time.Millisecond))

	done := make(chan error, 1)
	go func() {
		_, err := core.Withdraw(ctx, 1, 10)
		done <- err
	}()
	<-bs.entered

	_, err = core.Deposit(ctx, 1, 10)
	assert.ErrorIs(t, err, domain.ErrLockTimeout)
	assert.True(t, domain.IsRetryable(err))

	_, _, err = core.Transfer(ctx, 2, 1, 10)
	assert.ErrorIs(t, err, domain.ErrLockTimeout)

	// 其他帳戶不受影響
	_, err = core.Deposit(ctx, 2, 10)
	assert.NoError(t, err)

	close(bs.release)
	require.NoError(t, <-done)

	b, err := core.GetAccountBalance(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(90), b)
}

// conflictStore 讓前 N 次 CompareAndSetBalance 回傳 ErrBalanceConflict
type conflictStore struct {
	usecase.Store
	conflicts atomic.Int32
	attempts  atomic.Int32
}

func (c *conflictStore) Atomic(ctx context.Context, fn func(tx usecase.StoreTx) error) error {
	c.attempts.Add(1)
	return c.Store.Atomic(ctx, func(tx usecase.StoreTx) error {
		return fn(&conflictTx{StoreTx: tx, store: c})
	})
}

type conflictTx struct {
	usecase.StoreTx
	store *conflictStore
}

func (tx *conflictTx) CompareAndSetBalance(ctx context.Context, accountID int64, expected, next int64) error {
	if tx.store.conflicts.Add(-1) >= 0 {
		return domain.ErrBalanceConflict
	}
	return tx.StoreTx.CompareAndSetBalance(ctx, accountID, expected, next)
}

func TestBalanceConflictRetries(t *testing.T) {
	tests := []struct {
		name      string
		conflicts int32
		wantErr   bool
	}{
		{"no conflict", 0, false},
		{"within retries", usecase.DefaultCASRetries, false},
		{"retries exhausted", usecase.DefaultCASRetries + 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, nil)
			h.open(t, 1, 100)

			cs := &conflictStore{Store: h.store}
			cs.conflicts.Store(tt.conflicts)
			core := usecase.NewCoreUseCase(cs, usecase.WithLogger(discard))

			entry, err := core.Withdraw(ctx, 1, 40)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrLockTimeout)
				assert.ErrorIs(t, err, domain.ErrBalanceConflict)
				assert.True(t, domain.IsRetryable(err))
				assert.Equal(t, int32(usecase.DefaultCASRetries+1), cs.attempts.Load())
				assert.Equal(t, int64(100), h.balance(t, 1))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(60), entry.BalanceAfter)
			assert.Equal(t, tt.conflicts+1, cs.attempts.Load())
			assert.Equal(t, int64(60), h.balance(t, 1))
		})
	}
}

func TestHistoryPaginationStableUnderAppends(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, usecase.WithPageSize(3))
	h.open(t, 1, 0)
	for i := 1; i <= 10; i++ {
		_, err := h.core.Deposit(ctx, 1, int64(i))
		require.NoError(t, err)
	}

	page1, next, err := h.core.HistoryPage(ctx, 1, 4, 0)
	require.NoError(t, err)
	require.Len(t, page1, 4)
	require.NotZero(t, next)
	assert.Equal(t, []int64{10, 9, 8, 7}, amounts(page1))

	// 新的分錄不影響之後的頁
	for i := 0; i < 5; i++ {
		_, err := h.core.Deposit(ctx, 1, 100)
		require.NoError(t, err)
	}

	page2, next, err := h.core.HistoryPage(ctx, 1, 4, next)
	require.NoError(t, err)
	assert.Equal(t, []int64{6, 5, 4, 3}, amounts(page2))

	page3, next, err := h.core.HistoryPage(ctx, 1, 4, next)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, amounts(page3))
	assert.Zero(t, next)

	// lazy iterator 跨多個內部分頁
	all := collect(t, h, 1, 0, 0)
	require.Len(t, all, 15)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i-1].Sequence, all[i].Sequence)
	}
	assert.Len(t, collect(t, h, 1, 7, 0), 7)
	assert.Equal(t, []int64{6, 5}, amounts(collect(t, h, 1, 2, page1[3].Cursor())))
}

func amounts(entries []domain.Entry) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Amount)
	}
	return out
}

func TestAllHistoryPage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.open(t, 1, 100)
	h.open(t, 2, 0)
	_, _, err := h.core.Transfer(ctx, 1, 2, 30)
	require.NoError(t, err)
	_, err = h.core.Deposit(ctx, 2, 5)
	require.NoError(t, err)

	// 開戶存款 + 轉出 + 轉入 + 存款
	page, next, err := h.core.AllHistoryPage(ctx, 3, 0)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.NotZero(t, next)
	assert.Equal(t, domain.EntryKindDeposit, page[0].Kind)
	assert.Equal(t, int64(2), page[0].AccountID)
	assert.Equal(t, domain.EntryKindTransferIn, page[1].Kind)
	assert.Equal(t, domain.EntryKindTransferOut, page[2].Kind)

	rest, next, err := h.core.AllHistoryPage(ctx, 3, next)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Zero(t, next)
	assert.Equal(t, int64(1), rest[0].AccountID)
	assert.Equal(t, int64(100), rest[0].Amount)
}

func TestHistoryStopsEarlyAndReportsMissingAccount(t *testing.T) {
	ctx := context.Background()
	reads := atomic.Int32{}
	h := newHarness(t, []memory.Option{memory.WithFaultInjector(func(op string) error {
		if op == memory.OpReadEntries {
			reads.Add(1)
		}
		return nil
	})}, usecase.WithPageSize(2))
	h.open(t, 1, 0)
	for i := 0; i < 10; i++ {
		_, err := h.core.Deposit(ctx, 1, 1)
		require.NoError(t, err)
	}

	n := 0
	for _, err := range h.core.History(ctx, 1, 0, 0) {
		require.NoError(t, err)
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, int32(2), reads.Load(), "iterator should only read the pages it needs")

	var gotErr error
	for _, err := range h.core.History(ctx, 404, 0, 0) {
		gotErr = err
	}
	assert.ErrorIs(t, gotErr, domain.ErrAccountNotFound)
}

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]domain.Entry
	err     error
}

func (p *recordingPublisher) PublishEntries(ctx context.Context, entries []domain.Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, entries)
	return p.err
}

func TestPublisherReceivesCommittedEntries(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	h := newHarness(t, nil, usecase.WithPublisher(pub))
	h.open(t, 1, 100)
	h.open(t, 2, 0)

	id := uuid.New()
	_, _, err := h.core.Transfer(ctx, 1, 2, 50, usecase.WithTransactionID(id))
	require.NoError(t, err)
	_, _, err = h.core.Transfer(ctx, 1, 2, 50, usecase.WithTransactionID(id))
	require.NoError(t, err)
	_, err = h.core.Withdraw(ctx, 2, 500)
	require.Error(t, err)

	// 開戶存款一次、轉帳一次 (重送不再發布、失敗不發布)
	require.Len(t, pub.batches, 2)
	assert.Len(t, pub.batches[1], 2)

	// 發布失敗不影響交易結果
	pub.err = errors.New("broker down")
	_, err = h.core.Deposit(ctx, 1, 1)
	assert.NoError(t, err)
}
