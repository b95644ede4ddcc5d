package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	grpc_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/grpc"
	kafka_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/kafka"
	memory_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/memory"
	mysql_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/mysql"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/internal/config"
	"github.com/JoeShih716/go-bank-ledger/pkg/kafka"
	"github.com/JoeShih716/go-bank-ledger/pkg/logger"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config yaml")
	envFile := flag.String("env", "", "optional .env file")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		slog.Error("core exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	// 1. 載入設定
	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	cfg, err := config.Load(configPath, envFiles...)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 初始化 Store
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// 3. 事件發佈 (optional)
	coreOpts := []usecase.Option{
		usecase.WithLogger(log),
		usecase.WithLockTimeout(cfg.Ledger.LockTimeout),
		usecase.WithCASRetries(cfg.Ledger.CASRetries),
		usecase.WithPageSize(cfg.Ledger.PageSize),
	}
	if cfg.Kafka.Enabled {
		pub, err := kafka.NewPublisher(cfg.Kafka.Config)
		if err != nil {
			return err
		}
		defer pub.Close()
		coreOpts = append(coreOpts, usecase.WithPublisher(kafka_adapter.NewPublisher(pub)))
		log.Info("kafka publisher enabled", "brokers", cfg.Kafka.Brokers, "topic", pub.Topic())
	}

	// 4. 初始化 UseCase
	core := usecase.NewCoreUseCase(store, coreOpts...)
	accounts := usecase.NewAccountUseCase(store, core, usecase.WithBcryptCost(cfg.Ledger.BcryptCost))
	admins := usecase.NewAdminUseCase(store,
		usecase.WithAdminBcryptCost(cfg.Ledger.BcryptCost),
		usecase.WithAdminLogger(log),
	)

	// 5. 啟動 gRPC Server
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GRPC.Addr, err)
	}
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpc_adapter.RecoveryInterceptor(log),
		grpc_adapter.LoggingInterceptor(log),
	))
	grpc_adapter.RegisterLedgerServiceServer(s, grpc_adapter.NewGrpcServer(core, accounts, admins))
	if cfg.GRPC.Reflection {
		reflection.Register(s) // 方便 grpcurl / Postman 測試
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting gRPC server", "addr", cfg.GRPC.Addr, "backend", cfg.Ledger.Backend)
		serveErr <- s.Serve(lis)
	}()

	// Graceful Shutdown
	select {
	case err := <-serveErr:
		return fmt.Errorf("grpc serve: %w", err)
	case <-ctx.Done():
	}
	log.Info("shutting down server...")
	s.GracefulStop()
	log.Info("server exited")
	return nil
}

// openStore 依 ledger.backend 建立 Store，回傳的 close 會釋放底層資源
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (usecase.Store, func(), error) {
	switch cfg.Ledger.Backend {
	case config.BackendMySQL:
		client, err := mysql.NewClient(ctx, cfg.MySQL)
		if err != nil {
			return nil, nil, err
		}
		store := mysql_adapter.NewStore(client.DB())
		if err := store.Migrate(ctx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("connected to mysql", "host", cfg.MySQL.Host, "db", cfg.MySQL.DBName)
		return store, func() { closeQuietly(log, "mysql", client) }, nil

	default:
		var opts []memory_adapter.Option
		var w *wal.WAL
		if cfg.Ledger.WALPath != "" {
			var err error
			w, err = wal.NewWAL(cfg.Ledger.WALPath)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to init WAL: %w", err)
			}
			opts = append(opts, memory_adapter.WithWAL(w))
		}
		store, err := memory_adapter.NewStore(opts...)
		if err != nil {
			if w != nil {
				w.Close()
			}
			return nil, nil, err
		}
		log.Info("memory store ready", "wal", cfg.Ledger.WALPath)
		return store, func() {
			if w != nil {
				closeQuietly(log, "wal", w)
			}
		}, nil
	}
}

func closeQuietly(log *slog.Logger, name string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Warn("close failed", "resource", name, "error", err)
	}
}
