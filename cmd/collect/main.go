package main

import (
	"log"

	"github.com/gadicohen93/Veriver/internal/config"
	"github.com/gadicohen93/Veriver/internal/processor"
	"github.com/gadicohen93/Veriver/internal/scheduler"
	"github.com/gadicohen93/Veriver/internal/storage"
)

// 一个仅执行一次采集任务的命令行入口：适合手动触发采集
func main() {
	cfg := config.Load()

	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("init store failed: %v", err)
	}

	// 确保默认频道存在（与 cmd/api 保持一致）
	for _, ch := range cfg.DefaultChannels {
		if _, err := store.SubscribeChannel(ch, ""); err != nil {
			log.Fatalf("subscribe channel %s failed: %v", ch, err)
		}
	}

	p := processor.NewMessageProcessor()
	s, err := scheduler.New(cfg.CronSpec, store.ListActiveChannels, p, store, cfg.ScraperURL)
	if err != nil {
		log.Fatalf("init scheduler failed: %v", err)
	}

	// 只执行一轮采集任务后退出
	s.RunOnce()
}
