package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	DevTools struct {
		URL         string `yaml:"url"`
		EventBuffer int    `yaml:"eventBuffer"`
	} `yaml:"devtools"`

	SessionLog struct {
		Path string `yaml:"path"`
	} `yaml:"sessionLog"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`

	Fetch struct {
		Enabled            bool     `yaml:"enabled"`
		HandleAuthRequests bool     `yaml:"handleAuthRequests"`
		URLPatterns        []string `yaml:"urlPatterns"`
	} `yaml:"fetch"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	cfg := &Config{Version: "1.0.0"}
	cfg.DevTools.URL = "http://127.0.0.1:9222"
	cfg.SessionLog.Path = "session.log"
	cfg.Sqlite.Dsn = "db.sqlite3"
	cfg.Sqlite.Prefix = "cdpflow_"
	cfg.Log.Level = "debug"
	cfg.Log.Writer = []string{"console", "file"}
	cfg.Log.File = "cdpflow.log"
	cfg.Fetch.Enabled = true
	return cfg
}

// Load 读取 YAML 配置文件，文件不存在时返回默认配置
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return cfg, nil
}
