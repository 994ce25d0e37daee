package scheduler

import (
	"log"
	"sync"
	"time"

	"github.com/gadicohen93/Veriver/internal/collector"
	"github.com/gadicohen93/Veriver/internal/processor"
	"github.com/gadicohen93/Veriver/internal/storage"
	"github.com/robfig/cron/v3"
)

type Scheduler struct {
	cron      *cron.Cron
	processor *processor.MessageProcessor
	store     *storage.Store

	// 每轮从存储读取频道列表，订阅变化无需重启
	listChannels func() []string
	// browser-scraper 服务地址，透传给采集器
	scraperURL string
}

func New(spec string, listChannels func() []string, p *processor.MessageProcessor, store *storage.Store, scraperURL string) (*Scheduler, error) {
	c := cron.New()

	s := &Scheduler{
		cron:         c,
		processor:    p,
		store:        store,
		listChannels: listChannels,
		scraperURL:   scraperURL,
	}

	_, err := c.AddFunc(spec, s.runOnce)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	// 延迟执行首轮采集，避免与服务启动期的请求争抢资源
	const startupDelay = 10 * time.Second
	time.AfterFunc(startupDelay, func() {
		go s.runOnce()
	})
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// Cron 暴露底层 cron，便于外部追加额外任务
func (s *Scheduler) Cron() *cron.Cron {
	return s.cron
}

// RunOnce 对外暴露的单次执行入口，方便手动触发采集
func (s *Scheduler) RunOnce() {
	s.runOnce()
}

// CollectChannel 立即采集单个频道：订阅成功后马上回填最近的消息窗口
func (s *Scheduler) CollectChannel(channel string) {
	f := &collector.TelegramChannelFetcher{Channel: channel, ScraperURL: s.scraperURL}
	s.collect(f)
}

func (s *Scheduler) runOnce() {
	channels := s.listChannels()
	if len(channels) == 0 {
		log.Println("collect job skipped: no active channels")
		return
	}
	log.Printf("start collect job for %d channels...", len(channels))

	var wg sync.WaitGroup
	for _, ch := range channels {
		channel := ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.collect(&collector.TelegramChannelFetcher{Channel: channel, ScraperURL: s.scraperURL})
		}()
	}

	wg.Wait()
	log.Println("collect job done (all channels)")
}

func (s *Scheduler) collect(f collector.Fetcher) {
	name := f.Name()
	log.Printf("fetch from %s...", name)

	items, err := f.Fetch()
	if err != nil {
		log.Printf("fetch %s error: %v", name, err)
		return
	}
	if len(items) == 0 {
		log.Printf("fetch %s got 0 messages", name)
		return
	}

	processed := s.processor.Process(items)
	if len(processed) == 0 {
		return
	}
	if err := s.store.SaveBatch(processed); err != nil {
		log.Printf("save %s batch error: %v", name, err)
		return
	}
	// 条数 = 本轮解析到的数量（非“新增数”，已存在会更新）
	log.Printf("%s done, fetched=%d saved=%d messages", name, len(items), len(processed))
}
