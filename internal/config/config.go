// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// ErrInvalidConfig 表示启动所需的配置缺失或非法，属于启动期致命错误。
var ErrInvalidConfig = errors.New("invalid config")

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Taxonomy TaxonomyConfig `mapstructure:"taxonomy"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// LLMConfig 存储分类所用大语言模型服务的配置。
type LLMConfig struct {
	APIKey            string              `mapstructure:"api_key"`
	BaseURL           string              `mapstructure:"base_url"`
	Model             string              `mapstructure:"model"`
	TimeoutSeconds    int                 `mapstructure:"timeout_seconds"`
	RequestsPerMinute float64             `mapstructure:"requests_per_minute"`
	Burst             int                 `mapstructure:"burst"`
	MaxRetries        int                 `mapstructure:"max_retries"`
	Generation        LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// AnalysisConfig 控制学习信号分析流水线的策略参数。
type AnalysisConfig struct {
	DefaultLimit        int                  `mapstructure:"default_limit"`
	MaxLimit            int                  `mapstructure:"max_limit"`
	ContextTurns        int                  `mapstructure:"context_turns"`
	PrefilterEnabled    bool                 `mapstructure:"prefilter_enabled"`
	PrefilterMinRunes   int                  `mapstructure:"prefilter_min_runes"`
	SkipAlreadyAnalyzed bool                 `mapstructure:"skip_already_analyzed"`
	RunLockTTLSeconds   int                  `mapstructure:"run_lock_ttl_seconds"`
	Prompt              AnalysisPromptConfig `mapstructure:"prompt"`
}

// AnalysisPromptConfig 允许在默认分类提示词之后追加规则。
type AnalysisPromptConfig struct {
	Rules string `mapstructure:"rules"`
}

// TaxonomyConfig 指向版本化的课纲概念表文件，留空时使用内置版本。
type TaxonomyConfig struct {
	Path string `mapstructure:"path"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}

func setDefaults() {
	viper.SetDefault("server.port", "8081")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("kafka.group_id", "tutor-insight-analysis")
	viper.SetDefault("llm.timeout_seconds", 60)
	viper.SetDefault("llm.requests_per_minute", 30)
	viper.SetDefault("llm.burst", 1)
	viper.SetDefault("analysis.default_limit", 20)
	viper.SetDefault("analysis.max_limit", 200)
	viper.SetDefault("analysis.context_turns", 3)
	viper.SetDefault("analysis.prefilter_enabled", true)
	viper.SetDefault("analysis.prefilter_min_runes", 5)
	viper.SetDefault("analysis.run_lock_ttl_seconds", 600)
}

// Validate 检查启动所必需的配置项。任何缺失都视为致命错误，调用方不应继续启动。
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Database.MySQL.DSN) == "" {
		missing = append(missing, "database.mysql.dsn")
	}
	if strings.TrimSpace(c.Database.Redis.Addr) == "" {
		missing = append(missing, "database.redis.addr")
	}
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		missing = append(missing, "llm.api_key")
	}
	if strings.TrimSpace(c.LLM.BaseURL) == "" {
		missing = append(missing, "llm.base_url")
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		missing = append(missing, "llm.model")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		missing = append(missing, "jwt.secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	if c.Analysis.DefaultLimit <= 0 || c.Analysis.MaxLimit < c.Analysis.DefaultLimit {
		return fmt.Errorf("%w: analysis.default_limit must be in (0, max_limit]", ErrInvalidConfig)
	}
	return nil
}
