package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀，如 GEWE_GATEWAY_BASE_URL
const EnvPrefix = "GEWE_"

type (
	Config struct {
		Wxid               string         `yaml:"wxid" env:"WXID"`
		AppID              string         `yaml:"appId" env:"APP_ID"`
		SelfMessageVisible bool           `yaml:"selfMessageVisible" env:"SELF_MESSAGE_VISIBLE"`
		Nicknames          []string       `yaml:"nicknames" env:"NICKNAMES" envSeparator:","`
		DataDir            string         `yaml:"dataDir" env:"DATA"`
		RetentionDays      int            `yaml:"retentionDays" env:"RETENTION_DAYS"`
		PurgeHour          int            `yaml:"purgeHour" env:"PURGE_HOUR"`
		PurgeSpec          string         `yaml:"purgeSpec" env:"PURGE_SPEC"`
		Gateway            GatewayConfig  `yaml:"gateway" envPrefix:"GATEWAY_"`
		HTTP               HTTPConfig     `yaml:"http" envPrefix:"HTTP_"`
		WS                 WSConfig       `yaml:"ws" envPrefix:"WS_"`
		MQTT               MQTTConfig     `yaml:"mqtt" envPrefix:"MQTT_"`
		DB                 DBConfig       `yaml:"db" envPrefix:"DB_"`
		Dispatch           DispatchConfig `yaml:"dispatch" envPrefix:"DISPATCH_"`
		Log                LogConfig      `yaml:"log" envPrefix:"LOG_"`
	}

	GatewayConfig struct {
		BaseURL     string        `yaml:"baseUrl" env:"BASE_URL"`
		DownloadURL string        `yaml:"downloadUrl" env:"DOWNLOAD_URL"`
		Token       string        `yaml:"token" env:"TOKEN"` // 为空时通过接口获取
		CallbackURL string        `yaml:"callbackUrl" env:"CALLBACK_URL"`
		RateLimit   float64       `yaml:"rateLimit" env:"RATE_LIMIT"` // 每秒请求数
		Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	}

	HTTPConfig struct {
		Port         int    `yaml:"port" env:"PORT"`
		CallbackPath string `yaml:"callbackPath" env:"CALLBACK_PATH"`
	}

	WSConfig struct {
		Port      int           `yaml:"port" env:"PORT"` // 0不启动
		Heartbeat time.Duration `yaml:"heartbeat" env:"HEARTBEAT"`
		// Servers 主动连接的下游websocket服务
		Servers []string `yaml:"servers" env:"SERVERS" envSeparator:","`
	}

	MQTTConfig struct {
		Port           int    `yaml:"port" env:"PORT"` // 0不启动
		WSPort         int    `yaml:"wsPort" env:"WS_PORT"`
		PublishTopic   string `yaml:"publishTopic" env:"PUBLISH_TOPIC"`
		SubscribeTopic string `yaml:"subscribeTopic" env:"SUBSCRIBE_TOPIC"`
	}

	DBConfig struct {
		Type       string `yaml:"type" env:"TYPE"` // sqlite|mysql
		Username   string `yaml:"username" env:"USERNAME"`
		Password   string `yaml:"password" env:"PASSWORD"`
		Host       string `yaml:"host" env:"HOST"`
		Port       int    `yaml:"port" env:"PORT"`
		Database   string `yaml:"database" env:"DATABASE"`
		Parameters string `yaml:"parameters" env:"PARAMETERS"`
	}

	DispatchConfig struct {
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
	}

	LogConfig struct {
		Level  string `yaml:"level" env:"LEVEL"`
		Format string `yaml:"format" env:"FORMAT"` // text|json
	}
)

func Default() *Config {
	return &Config{
		SelfMessageVisible: true,
		DataDir:            "./data",
		RetentionDays:      31,
		PurgeHour:          3,
		PurgeSpec:          "@hourly",
		Gateway: GatewayConfig{
			BaseURL:     "http://127.0.0.1:2531/v2/api",
			DownloadURL: "http://127.0.0.1:2532/download",
			RateLimit:   1,
			Timeout:     30 * time.Second,
		},
		HTTP: HTTPConfig{
			Port:         8080,
			CallbackPath: "/gewechat/callback/collect",
		},
		WS: WSConfig{
			Port:      18080,
			Heartbeat: 10 * time.Second,
		},
		MQTT: MQTTConfig{
			Port:           1883,
			PublishTopic:   "gewe/event",
			SubscribeTopic: "gewe/command",
		},
		DB: DBConfig{
			Type:     "sqlite",
			Username: "root",
			Password: "root",
			Host:     "127.0.0.1",
			Port:     3306,
		},
		Dispatch: DispatchConfig{ShutdownTimeout: 10 * time.Second},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load 默认值 < 配置文件 < 环境变量，path为空或文件不存在时跳过配置文件
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err = yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("解析配置文件 %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, err
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("解析环境变量: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.RetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("retentionDays必须大于0: %d", c.RetentionDays))
	}
	if c.PurgeHour < 0 || c.PurgeHour > 23 {
		errs = append(errs, fmt.Errorf("purgeHour必须在0-23之间: %d", c.PurgeHour))
	}
	if c.Gateway.BaseURL == "" {
		errs = append(errs, errors.New("gateway.baseUrl不能为空"))
	}
	if !strings.HasPrefix(c.HTTP.CallbackPath, "/") {
		errs = append(errs, fmt.Errorf("http.callbackPath必须以/开头: %q", c.HTTP.CallbackPath))
	}
	switch c.DB.Type {
	case "", "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Errorf("unknown db type: %s", c.DB.Type))
	}
	return errors.Join(errs...)
}

// DSN mysql连接串
func (d DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", d.Username, d.Password, d.Host, d.Port, d.Database, d.Parameters)
}

func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func (l LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
