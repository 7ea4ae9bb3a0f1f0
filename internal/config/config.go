package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App    AppConfig    `json:"app"`
	MySQL  MySQLConfig  `json:"mysql"`
	Redis  RedisConfig  `json:"redis"`
	Vinted VintedConfig `json:"vinted"`
	Email  EmailConfig  `json:"email"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env      string `json:"env"`       // 运行环境: local / prod
	LogLevel string `json:"log_level"` // 日志级别: debug / info / warn / error
	HTTPAddr string `json:"http_addr"` // 管理 API 监听地址

	CheckInterval        time.Duration `json:"check_interval"`         // 未封锁时的调度间隔（如 "5m"）
	BlockedCheckInterval time.Duration `json:"blocked_check_interval"` // 封锁时的调度间隔（如 "60m"）
	ItemGracePeriod      time.Duration `json:"item_grace_period"`      // 商品缺席多久后标记为不活跃（如 "24h"）

	WorkerPoolSize int `json:"worker_pool_size"` // 并发检查的监控数上限
	QueueCapacity  int `json:"queue_capacity"`   // 队列容量

	MaxPagesAuto   int `json:"max_pages_auto"`   // 自动轮询每个监控最多抓取页数
	MaxPagesManual int `json:"max_pages_manual"` // 手动触发最多抓取页数
	PageSize       int `json:"page_size"`        // 每页商品数 (per_page)

	RateLimit float64 `json:"rate_limit"` // 上游请求限流速率（token/s，0 关闭）
	RateBurst float64 `json:"rate_burst"` // 限流桶容量
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 配置（凭证缓存与限流）。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// VintedConfig 上游目录 API 配置。
type VintedConfig struct {
	BaseURL        string        `json:"base_url"`         // 站点根地址（如 https://www.vinted.be）
	UserAgent      string        `json:"user_agent"`       // 请求 UA
	HTTPTimeout    time.Duration `json:"http_timeout"`     // 单次请求超时
	MaxRetries     int           `json:"max_retries"`      // Transient 错误最大重试次数
	RetryBaseDelay time.Duration `json:"retry_base_delay"` // 重试退避基数
	TokenTTL       time.Duration `json:"token_ttl"`        // 凭证缓存有效期
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值；
// 环境变量（包括 .env 文件）始终具有最高优先级。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json"）
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	// .env 不存在时静默忽略
	_ = godotenv.Load()

	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// 如果配置文件不存在，使用默认配置
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// 应用默认值（对于未设置的字段）
	applyDefaults(cfg)

	// 环境变量优先覆盖配置
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault 加载配置，如果失败则返回默认配置（不报错）。
func LoadOrDefault(configPath ...string) *Config {
	cfg, err := Load(configPath...)
	if err != nil {
		fallback := getDefaultConfig()
		applyEnvOverrides(fallback)
		return fallback
	}
	return cfg
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:                  "local",
			LogLevel:             "info",
			HTTPAddr:             ":8082",
			CheckInterval:        5 * time.Minute,
			BlockedCheckInterval: 60 * time.Minute,
			ItemGracePeriod:      24 * time.Hour,
			WorkerPoolSize:       4,
			QueueCapacity:        256,
			MaxPagesAuto:         5,
			MaxPagesManual:       10,
			PageSize:             96,
			RateLimit:            0.5,
			RateBurst:            2,
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/vintedwatch?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Vinted: VintedConfig{
			BaseURL:        "https://www.vinted.be",
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36",
			HTTPTimeout:    30 * time.Second,
			MaxRetries:     3,
			RetryBaseDelay: time.Second,
			TokenTTL:       24 * time.Hour,
		},
		Email: EmailConfig{
			SMTPHost:  "smtp.gmail.com",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.CheckInterval == 0 {
		cfg.App.CheckInterval = defaults.App.CheckInterval
	}
	if cfg.App.BlockedCheckInterval == 0 {
		cfg.App.BlockedCheckInterval = defaults.App.BlockedCheckInterval
	}
	if cfg.App.ItemGracePeriod == 0 {
		cfg.App.ItemGracePeriod = defaults.App.ItemGracePeriod
	}
	if cfg.App.WorkerPoolSize == 0 {
		cfg.App.WorkerPoolSize = defaults.App.WorkerPoolSize
	}
	if cfg.App.QueueCapacity == 0 {
		cfg.App.QueueCapacity = defaults.App.QueueCapacity
	}
	if cfg.App.MaxPagesAuto == 0 {
		cfg.App.MaxPagesAuto = defaults.App.MaxPagesAuto
	}
	if cfg.App.MaxPagesManual == 0 {
		cfg.App.MaxPagesManual = defaults.App.MaxPagesManual
	}
	if cfg.App.PageSize == 0 {
		cfg.App.PageSize = defaults.App.PageSize
	}
	if cfg.MySQL.DSN == "" {
		cfg.MySQL.DSN = defaults.MySQL.DSN
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Vinted.BaseURL == "" {
		cfg.Vinted.BaseURL = defaults.Vinted.BaseURL
	}
	if cfg.Vinted.UserAgent == "" {
		cfg.Vinted.UserAgent = defaults.Vinted.UserAgent
	}
	if cfg.Vinted.HTTPTimeout == 0 {
		cfg.Vinted.HTTPTimeout = defaults.Vinted.HTTPTimeout
	}
	if cfg.Vinted.MaxRetries == 0 {
		cfg.Vinted.MaxRetries = defaults.Vinted.MaxRetries
	}
	if cfg.Vinted.RetryBaseDelay == 0 {
		cfg.Vinted.RetryBaseDelay = defaults.Vinted.RetryBaseDelay
	}
	if cfg.Vinted.TokenTTL == 0 {
		cfg.Vinted.TokenTTL = defaults.Vinted.TokenTTL
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_dsn", "DB_DSN")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.CheckInterval = d
		}
	}
	if v := os.Getenv("APP_BLOCKED_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.BlockedCheckInterval = d
		}
	}
	if v := os.Getenv("APP_ITEM_GRACE_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.ItemGracePeriod = d
		}
	}
	if v := os.Getenv("APP_WORKER_POOL_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.WorkerPoolSize = i
		}
	}
	if v := os.Getenv("APP_QUEUE_CAPACITY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.QueueCapacity = i
		}
	}
	if v := os.Getenv("APP_MAX_PAGES_AUTO"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.MaxPagesAuto = i
		}
	}
	if v := os.Getenv("APP_MAX_PAGES_MANUAL"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.MaxPagesManual = i
		}
	}
	if v := os.Getenv("APP_PAGE_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.PageSize = i
		}
	}
	if v := os.Getenv("APP_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateLimit = f
		}
	}
	if v := os.Getenv("APP_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateBurst = f
		}
	}

	if v := viper.GetString("db_dsn"); v != "" {
		cfg.MySQL.DSN = v
	} else if v := viper.GetString("db_password"); v != "" {
		// 仅覆盖密码时，重写 DSN 的密码部分
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		parsed.Passwd = v
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("VINTED_BASE_URL"); v != "" {
		cfg.Vinted.BaseURL = v
	}
	if v := os.Getenv("VINTED_USER_AGENT"); v != "" {
		cfg.Vinted.UserAgent = v
	}
	if v := os.Getenv("VINTED_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Vinted.HTTPTimeout = d
		}
	}
	if v := os.Getenv("VINTED_MAX_RETRIES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Vinted.MaxRetries = i
		}
	}
	if v := os.Getenv("VINTED_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Vinted.TokenTTL = d
		}
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := &mysql.Config{
		User:   "root",
		Passwd: "",
		Net:    "tcp",
		Addr:   "localhost:3306",
		DBName: "vintedwatch",
		Params: map[string]string{
			"parseTime": "true",
			"loc":       "Local",
		},
	}
	if dsn == "" {
		return fallback
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		CheckInterval        string `json:"check_interval"`
		BlockedCheckInterval string `json:"blocked_check_interval"`
		ItemGracePeriod      string `json:"item_grace_period"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.CheckInterval != "" {
		d, err := time.ParseDuration(aux.CheckInterval)
		if err != nil {
			return fmt.Errorf("invalid check_interval format: %w", err)
		}
		a.CheckInterval = d
	}
	if aux.BlockedCheckInterval != "" {
		d, err := time.ParseDuration(aux.BlockedCheckInterval)
		if err != nil {
			return fmt.Errorf("invalid blocked_check_interval format: %w", err)
		}
		a.BlockedCheckInterval = d
	}
	if aux.ItemGracePeriod != "" {
		d, err := time.ParseDuration(aux.ItemGracePeriod)
		if err != nil {
			return fmt.Errorf("invalid item_grace_period format: %w", err)
		}
		a.ItemGracePeriod = d
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		CheckInterval        string `json:"check_interval"`
		BlockedCheckInterval string `json:"blocked_check_interval"`
		ItemGracePeriod      string `json:"item_grace_period"`
		*Alias
	}{
		CheckInterval:        a.CheckInterval.String(),
		BlockedCheckInterval: a.BlockedCheckInterval.String(),
		ItemGracePeriod:      a.ItemGracePeriod.String(),
		Alias:                (*Alias)(&a),
	})
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串。
func (v *VintedConfig) UnmarshalJSON(data []byte) error {
	type Alias VintedConfig
	aux := &struct {
		HTTPTimeout    string `json:"http_timeout"`
		RetryBaseDelay string `json:"retry_base_delay"`
		TokenTTL       string `json:"token_ttl"`
		*Alias
	}{
		Alias: (*Alias)(v),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.HTTPTimeout != "" {
		d, err := time.ParseDuration(aux.HTTPTimeout)
		if err != nil {
			return fmt.Errorf("invalid http_timeout format: %w", err)
		}
		v.HTTPTimeout = d
	}
	if aux.RetryBaseDelay != "" {
		d, err := time.ParseDuration(aux.RetryBaseDelay)
		if err != nil {
			return fmt.Errorf("invalid retry_base_delay format: %w", err)
		}
		v.RetryBaseDelay = d
	}
	if aux.TokenTTL != "" {
		d, err := time.ParseDuration(aux.TokenTTL)
		if err != nil {
			return fmt.Errorf("invalid token_ttl format: %w", err)
		}
		v.TokenTTL = d
	}

	return nil
}
