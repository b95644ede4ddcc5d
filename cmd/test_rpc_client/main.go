package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	grpc_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/grpc"
	"github.com/JoeShih716/go-bank-ledger/pkg/logger"
	"github.com/JoeShih716/go-bank-ledger/pkg/money"
)

// 壓測 / 競態測試用 client
//
//	load: 對同一帳戶大量存款，計算 TPS
//	race: 多個 goroutine 同時提領全部餘額，只能有一筆成功
func main() {
	addr := flag.String("addr", "localhost:50051", "ledger gRPC address")
	mode := flag.String("mode", "load", "load | race")
	total := flag.Int("n", 10000, "number of requests")
	concurrency := flag.Int("c", 100, "concurrent requests")
	amountStr := flag.String("amount", "100.00", "amount in major units")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	flag.Parse()

	log := logger.New("info", "text")

	amount, err := money.ParseMinor(*amountStr, domain.CurrencyExponent)
	if err != nil || amount <= 0 {
		log.Error("invalid amount", "amount", *amountStr, "error", err)
		os.Exit(1)
	}

	pool := grpc.NewPool(grpc.WithInterceptor(grpc.LoggingInterceptor(log)))
	defer pool.Close()
	conn, err := pool.GetConnection(*addr)
	if err != nil {
		log.Error("did not connect", "error", err)
		os.Exit(1)
	}
	c := grpc_adapter.NewClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "race":
		err = runRace(ctx, c, *concurrency, amount)
	default:
		err = runLoad(ctx, c, *total, *concurrency, amount)
	}
	if err != nil {
		log.Error("run failed", "mode", *mode, "error", err)
		os.Exit(1)
	}
}

func openAccount(ctx context.Context, c *grpc_adapter.Client, balance int64) (domain.Account, error) {
	return c.OpenAccount(ctx, usecase.RegisterRequest{
		Owner:          "loadtest",
		PIN:            "0000",
		InitialBalance: balance,
	})
}

func runLoad(ctx context.Context, c *grpc_adapter.Client, total, concurrency int, amount int64) error {
	acc, err := openAccount(ctx, c, 0)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	var failed atomic.Int64
	sem := make(chan struct{}, concurrency)
	start := time.Now()

	for i := 0; i < total; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := c.Deposit(ctx, acc.ID, amount, uuid.New()); err != nil {
				failed.Add(1)
				if idx%1000 == 0 {
					slog.Warn("deposit failed", "idx", idx, "error", err)
				}
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	balance, err := c.GetBalance(ctx, acc.ID)
	if err != nil {
		return err
	}
	ok := int64(total) - failed.Load()
	fmt.Printf("Completed %d requests in %v (%d failed)\n", total, elapsed, failed.Load())
	fmt.Printf("TPS: %.2f\n", float64(total)/elapsed.Seconds())
	fmt.Printf("Balance: %s (expected %s)\n",
		money.FormatMinor(balance, domain.CurrencyExponent),
		money.FormatMinor(ok*amount, domain.CurrencyExponent),
	)
	if balance != ok*amount {
		return errors.New("balance does not match successful deposits")
	}
	return nil
}

func runRace(ctx context.Context, c *grpc_adapter.Client, concurrency int, amount int64) error {
	acc, err := openAccount(ctx, c, amount)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	var success, insufficient atomic.Int64
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Withdraw(ctx, acc.ID, amount, uuid.Nil)
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, domain.ErrInsufficientFunds):
				insufficient.Add(1)
			default:
				slog.Warn("withdraw failed", "error", err, "retryable", domain.IsRetryable(err))
			}
		}()
	}
	wg.Wait()

	fmt.Printf("success=%d insufficient=%d\n", success.Load(), insufficient.Load())
	if success.Load() != 1 {
		return fmt.Errorf("expected exactly one successful withdraw, got %d", success.Load())
	}
	return nil
}
