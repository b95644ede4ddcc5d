package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-bank-ledger/pkg/kafka"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
)

const (
	BackendMemory = "memory"
	BackendMySQL  = "mysql"
)

// DefaultPath 預設設定檔位置
const DefaultPath = "config/config.yaml"

// Config 是 core 服務的完整設定
// 環境變數一律以 LEDGER_ 開頭，例如 LEDGER_GRPC_ADDR、LEDGER_MYSQL_HOST
type Config struct {
	Ledger LedgerConfig `yaml:"ledger" envconfig:"LEDGER"`
	GRPC   GRPCConfig   `yaml:"grpc" envconfig:"LEDGER_GRPC"`
	MySQL  mysql.Config `yaml:"mysql" envconfig:"LEDGER_MYSQL" validate:"-"`
	Kafka  KafkaConfig  `yaml:"kafka" envconfig:"LEDGER_KAFKA" validate:"-"`
	Log    LogConfig    `yaml:"log" envconfig:"LEDGER_LOG"`
}

type LedgerConfig struct {
	Backend     string        `yaml:"backend" envconfig:"BACKEND" validate:"oneof=memory mysql"`
	LockTimeout time.Duration `yaml:"lock_timeout" envconfig:"LOCK_TIMEOUT" validate:"gt=0"`
	CASRetries  int           `yaml:"cas_retries" envconfig:"CAS_RETRIES" validate:"min=1,max=100"`
	WALPath     string        `yaml:"wal_path" envconfig:"WAL_PATH"` // 空字串表示不寫 WAL (僅記憶體)
	PageSize    int           `yaml:"page_size" envconfig:"PAGE_SIZE" validate:"min=1,max=500"`
	BcryptCost  int           `yaml:"bcrypt_cost" envconfig:"BCRYPT_COST" validate:"min=4,max=31"`
}

type GRPCConfig struct {
	Addr       string `yaml:"addr" envconfig:"ADDR" validate:"required"`
	Reflection bool   `yaml:"reflection" envconfig:"REFLECTION"`
}

type KafkaConfig struct {
	Enabled      bool `yaml:"enabled" envconfig:"ENABLED"`
	kafka.Config `yaml:",inline"`
}

type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" envconfig:"FORMAT" validate:"omitempty,oneof=text json"`
}

// Default 不需要任何外部依賴就能啟動的設定
func Default() Config {
	return Config{
		Ledger: LedgerConfig{
			Backend:     BackendMemory,
			LockTimeout: 2 * time.Second,
			CASRetries:  3,
			WALPath:     "wal.log",
			PageSize:    50,
			BcryptCost:  10,
		},
		GRPC: GRPCConfig{
			Addr:       ":50051",
			Reflection: true,
		},
		MySQL: mysql.DefaultConfig(),
		Kafka: KafkaConfig{
			Config: kafka.Config{
				Topic:        "ledger.entries",
				WriteTimeout: 5 * time.Second,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load 依序套用: 預設值 -> yaml 檔 -> .env -> 環境變數，最後驗證
//
// 參數:
//
//	path: string - yaml 設定檔路徑，檔案不存在時沿用預設值
//	envFiles: ...string - .env 檔案，未提供時嘗試目前目錄的 .env
//
// 回傳值:
//
//	*Config: 驗證過的設定
//	error: 讀檔、解析或驗證失敗
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Warn("config file not found, using defaults", "path", path)
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := godotenv.Load(envFiles...); err != nil {
		slog.Debug("no .env file loaded", "files", envFiles, "error", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 檢查設定，MySQL / Kafka 只在啟用時檢查
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Ledger.Backend == BackendMySQL {
		if err := v.Struct(c.MySQL); err != nil {
			return fmt.Errorf("invalid mysql config: %w", err)
		}
	}
	if c.Kafka.Enabled {
		if err := v.Struct(c.Kafka.Config); err != nil {
			return fmt.Errorf("invalid kafka config: %w", err)
		}
	}
	return nil
}
