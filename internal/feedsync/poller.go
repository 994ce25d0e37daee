package feedsync

import (
	"context"
	"log"
	"time"
)

// DefaultPollInterval 增量轮询的默认周期
const DefaultPollInterval = 5 * time.Second

// Poller 管理一个 feed 订阅的完整生命周期：initial load 一次，
// 之后固定周期做增量同步。切换 feed 开启新的一代：上一代的 context
// 被取消、在途结果只会落进已被弃用的旧 Synchronizer，绝不会污染新 feed。
// 每一代只有一个轮询 goroutine，相当于单槽队列：合并天然串行，
// 同步还在途时到来的 tick 被 ticker 丢弃（跳过本轮而不是排队）。
type Poller struct {
	src      Source
	limit    int
	interval time.Duration

	cur    *Synchronizer
	cancel context.CancelFunc
}

func NewPoller(src Source, limit int, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if limit <= 0 {
		limit = 10
	}
	return &Poller{src: src, limit: limit, interval: interval}
}

// Watch 开始（或切换到）监听某个 feed，返回这一代的 Synchronizer。
// 必须在同一个 goroutine 中调用 Watch/Stop；Synchronizer 本身并发安全。
func (p *Poller) Watch(feed string, direction SortDirection) *Synchronizer {
	if p.cancel != nil {
		// 取消上一代：停掉轮询定时器，丢弃在途拉取的结果
		p.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	s := New(p.src, feed, p.limit, direction)
	p.cur = s
	go p.run(ctx, s)
	return s
}

// Current 当前代的 Synchronizer，尚未 Watch 时为 nil
func (p *Poller) Current() *Synchronizer {
	return p.cur
}

// Stop 停止轮询。幂等，可在任意时刻调用。
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Poller) run(ctx context.Context, s *Synchronizer) {
	// initial load 必须先于任何增量同步落地
	if err := s.InitialLoad(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("feedsync: initial load %s: %v", s.feed, err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sync(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				// 失败不会中断排期：固定间隔重试，只留日志供排查
				log.Printf("feedsync: poll %s: %v", s.feed, err)
			}
		}
	}
}
