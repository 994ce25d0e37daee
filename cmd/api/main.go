package main

import (
	"log"

	"github.com/gadicohen93/Veriver/internal/api"
	"github.com/gadicohen93/Veriver/internal/config"
	"github.com/gadicohen93/Veriver/internal/processor"
	"github.com/gadicohen93/Veriver/internal/scheduler"
	"github.com/gadicohen93/Veriver/internal/storage"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()

	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr)
	if err != nil {
		log.Fatalf("init store failed: %v", err)
	}

	// 确保默认频道存在；订阅列表的后续变化走 API
	for _, ch := range cfg.DefaultChannels {
		if _, err := store.SubscribeChannel(ch, ""); err != nil {
			log.Printf("warn: subscribe default channel %s: %v", ch, err)
		}
	}

	p := processor.NewMessageProcessor()
	// 频道列表每轮从数据库读取，新订阅无需重启即可生效
	s, err := scheduler.New(cfg.CronSpec, store.ListActiveChannels, p, store, cfg.ScraperURL)
	if err != nil {
		log.Fatalf("init scheduler failed: %v", err)
	}
	s.Start()

	r := gin.Default()
	apiServer := api.NewServer(store, s)
	apiServer.RegisterRoutes(r)

	addr := ":" + cfg.AppPort
	log.Printf("starting api server at %s ...", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("server exit: %v", err)
	}
}
