package config

import (
	"log"
	"os"
	"strings"
	"time"
)

type Config struct {
	AppPort string

	PostgresDSN string
	RedisAddr   string

	// 采集周期，robfig/cron 表达式，支持 @every 形式
	CronSpec string

	// browser-scraper 服务地址，为空表示不启用 JS 渲染兜底
	ScraperURL string

	// 启动时需要确保订阅的频道，逗号分隔
	DefaultChannels []string
}

func Load() *Config {
	cfg := &Config{
		AppPort:         getEnv("APP_PORT", "9000"),
		PostgresDSN:     getEnv("POSTGRES_DSN", "host=localhost user=veriver password=veriver dbname=veriver port=5432 sslmode=disable TimeZone=UTC"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		CronSpec:        getEnv("CRON_SPEC", "@every 1m"),
		ScraperURL:      getEnv("SCRAPER_URL", ""),
		DefaultChannels: splitChannels(getEnv("DEFAULT_CHANNELS", "")),
	}

	log.Printf("config loaded: port=%s cron=%s channels=%d", cfg.AppPort, cfg.CronSpec, len(cfg.DefaultChannels))
	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitChannels(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Now returns current time, 方便后续做可测试封装
func Now() time.Time {
	return time.Now()
}
