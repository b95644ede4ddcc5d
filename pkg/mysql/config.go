package mysql

import (
	"fmt"
	"time"
)

// Config 定義 MySQL 連線與連線池的配置
type Config struct {
	Host     string `yaml:"host" envconfig:"HOST" validate:"required"` // 資料庫主機地址
	Port     int    `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	User     string `yaml:"user" envconfig:"USER" validate:"required"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DBName   string `yaml:"db_name" envconfig:"DB_NAME" validate:"required"`

	// 連線池設定 (Connection Pool)
	// 參考: https://github.com/go-sql-driver/mysql#important-settings
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME"`

	// 啟動時的重試
	ConnectRetries int           `yaml:"connect_retries" envconfig:"CONNECT_RETRIES"`
	RetryInterval  time.Duration `yaml:"retry_interval" envconfig:"RETRY_INTERVAL"`

	// GORM 設定
	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL" validate:"omitempty,oneof=silent error warn info"`
}

// DefaultConfig 本機開發用的預設值
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            3306,
		User:            "root",
		DBName:          "ledger",
		MaxOpenConns:    50,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnectRetries:  10,
		RetryInterval:   2 * time.Second,
		LogLevel:        "error",
	}
}

// DSN (Data Source Name) 產生連線字串
// 格式: user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true
//
// clientFoundRows 讓 UPDATE 回傳符合條件的列數，CAS 判斷依賴這個行為
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.DBName,
	)
}
