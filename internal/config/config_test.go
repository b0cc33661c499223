package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Database: DatabaseConfig{
			MySQL: MySQLConfig{DSN: "root:pw@tcp(127.0.0.1:3306)/tutor"},
			Redis: RedisConfig{Addr: "127.0.0.1:6379"},
		},
		JWT:      JWTConfig{Secret: "s"},
		LLM:      LLMConfig{APIKey: "k", BaseURL: "http://llm", Model: "m"},
		Analysis: AnalysisConfig{DefaultLimit: 20, MaxLimit: 200},
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "完整配置", mutate: func(c *Config) {}},
		{name: "缺少模型密钥", mutate: func(c *Config) { c.LLM.APIKey = "" }, wantErr: true},
		{name: "缺少模型地址", mutate: func(c *Config) { c.LLM.BaseURL = " " }, wantErr: true},
		{name: "缺少数据库", mutate: func(c *Config) { c.Database.MySQL.DSN = "" }, wantErr: true},
		{name: "缺少 Redis", mutate: func(c *Config) { c.Database.Redis.Addr = "" }, wantErr: true},
		{name: "默认条数超过上限", mutate: func(c *Config) { c.Analysis.DefaultLimit = 500 }, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(&c)
			err := c.Validate()
			if tc.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestShippedConfig(t *testing.T) {
	Init("../../configs/config.yaml")
	require.NoError(t, Conf.Validate())

	// 模型客户端只实现 generateContent 协议
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta", Conf.LLM.BaseURL)
	assert.True(t, strings.HasPrefix(Conf.LLM.Model, "gemini-"), Conf.LLM.Model)
	assert.True(t, Conf.Analysis.SkipAlreadyAnalyzed)
	assert.Equal(t, "tutor-insight-analysis", Conf.Kafka.GroupID)
}
