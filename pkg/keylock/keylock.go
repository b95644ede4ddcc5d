package keylock

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// ErrTimeout 在期限內無法取得鎖
var ErrTimeout = errors.New("keylock: timeout waiting for lock")

// KeyedMutex 以 int64 key 為單位的互斥鎖
// 每個 key 一個容量為 1 的 channel，讓等待可以被 timeout / context 中斷
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int // 持有或等待中的 goroutine 數量，歸零時回收
}

func New() *KeyedMutex {
	return &KeyedMutex{
		locks: make(map[int64]*keyLock),
	}
}

// Unlocker 釋放 Lock 取得的所有鎖
type Unlocker func()

// Lock 依遞增順序鎖定所有 keys (重複的 key 只鎖一次)
//
// 參數:
//
//	ctx: 上下文，結束時放棄等待
//	timeout: 整批鎖的最長等待時間，<= 0 代表只受 ctx 限制
//	keys: 要鎖定的 key
//
// 回傳:
//
//	Unlocker: 釋放函式，必須呼叫
//	error: ErrTimeout 或 ctx.Err()
func (k *KeyedMutex) Lock(ctx context.Context, timeout time.Duration, keys ...int64) (Unlocker, error) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	held := make([]int64, 0, len(sorted))
	release := func() {
		// 反向釋放
		for i := len(held) - 1; i >= 0; i-- {
			k.unlock(held[i])
		}
	}

	for _, key := range sorted {
		l := k.acquireRef(key)
		select {
		case l.ch <- struct{}{}:
			held = append(held, key)
		case <-deadline:
			k.releaseRef(key)
			release()
			return nil, ErrTimeout
		case <-ctx.Done():
			k.releaseRef(key)
			release()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (k *KeyedMutex) acquireRef(key int64) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *KeyedMutex) releaseRef(key int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

func (k *KeyedMutex) unlock(key int64) {
	k.mu.Lock()
	l := k.locks[key]
	k.mu.Unlock()
	<-l.ch
	k.releaseRef(key)
}

// Len 目前追蹤中的 key 數量
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
