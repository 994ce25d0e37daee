package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gadicohen93/Veriver/internal/processor"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Channel 描述一个被监控的 Telegram 频道
type Channel struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Code   string `gorm:"size:128;uniqueIndex" json:"code"` // 频道名，例如: durov
	Title  string `gorm:"size:256" json:"title"`
	Status string `gorm:"size:32;index" json:"status"` // active / disabled

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message 一条频道消息。json 字段名即对外 API 的线上格式：
// id 为频道内单调递增的消息 id，timestamp 为 ISO-8601 时间。
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Channel   string    `gorm:"size:128;index;uniqueIndex:idx_channel_message" json:"channel"`
	MessageID int64     `gorm:"uniqueIndex:idx_channel_message" json:"id"`
	Date      time.Time `gorm:"index" json:"timestamp"`
	// 正文长度在 processor 中按 rune 截断，这里的字段长度略留余量
	Text      string            `gorm:"size:4200" json:"text"`
	Views     int               `json:"views"`
	Forwards  int               `json:"forwards"`
	HasMedia  bool              `json:"hasMedia"`
	MediaType string            `gorm:"size:64" json:"mediaType"`
	Edited    bool              `json:"edited"`
	ExtraData datatypes.JSONMap `gorm:"type:jsonb" json:"extraData"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Store struct {
	DB    *gorm.DB
	Redis *redis.Client
}

func NewStore(dsn, redisAddr string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Channel{}, &Message{}); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("warn: redis ping failed: %v", err)
	}

	return &Store{DB: db, Redis: rdb}, nil
}

// NormalizeChannel 将用户输入统一成裸频道名：
// 支持 @name、t.me/name、https://t.me/s/name 等形式；非法输入返回空串。
func NormalizeChannel(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "t.me/")
	s = strings.TrimPrefix(s, "s/")
	s = strings.TrimPrefix(s, "@")
	s = strings.Trim(s, "/")
	if s == "" || strings.ContainsAny(s, "/ \t") {
		return ""
	}
	return strings.ToLower(s)
}

// SubscribeChannel 订阅频道：不存在则创建，已禁用则恢复为 active
func (s *Store) SubscribeChannel(code, title string) (*Channel, error) {
	code = NormalizeChannel(code)
	if code == "" {
		return nil, fmt.Errorf("storage: invalid channel name")
	}
	if title == "" {
		title = code
	}

	ch := &Channel{}
	if err := s.DB.Where("code = ?", code).First(ch).Error; err == nil {
		if ch.Status != "active" {
			ch.Status = "active"
			if err := s.DB.Model(ch).Update("status", "active").Error; err != nil {
				return nil, err
			}
		}
		return ch, nil
	}

	ch = &Channel{
		Code:   code,
		Title:  title,
		Status: "active",
	}
	if err := s.DB.Create(ch).Error; err != nil {
		return nil, err
	}
	return ch, nil
}

// ListChannels 返回全部频道（按订阅顺序）
func (s *Store) ListChannels() ([]Channel, error) {
	var list []Channel
	err := s.DB.Order("created_at ASC").Find(&list).Error
	return list, err
}

// ListActiveChannels 返回所有 active 状态的频道名，供调度器每轮读取
func (s *Store) ListActiveChannels() []string {
	var list []Channel
	if err := s.DB.Where("status = ?", "active").Order("created_at ASC").Find(&list).Error; err != nil {
		log.Printf("storage: list active channels: %v", err)
		return nil
	}
	codes := make([]string, 0, len(list))
	for _, ch := range list {
		codes = append(codes, ch.Code)
	}
	return codes
}

// RemoveChannel 取消订阅并清掉该频道的消息。
// 同步层自身从不隐式收缩状态，删除只能由这里显式发起。
func (s *Store) RemoveChannel(code string) error {
	code = NormalizeChannel(code)
	if code == "" {
		return nil
	}
	if err := s.DB.Where("channel = ?", code).Delete(&Message{}).Error; err != nil {
		return err
	}
	return s.DB.Where("code = ?", code).Delete(&Channel{}).Error
}

// truncateRunesDB 按 rune 数截断字符串，确保不会超过数据库字段长度。
// 这是对上游 Processor 的双保险，防止异常长文本导致入库失败。
func truncateRunesDB(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}

// SaveBatch 保存一批消息，以 (channel, message_id) 作为幂等键。
// 已存在的消息更新正文与计数（预览页会反复返回同一窗口，浏览数在涨），
// 正文发生变化时标记为 edited。
func (s *Store) SaveBatch(items []processor.ProcessedMessage) error {
	for _, it := range items {
		text := truncateRunesDB(it.Text, 4200)
		n := &Message{
			Channel:   it.Channel,
			MessageID: it.MessageID,
			Date:      it.Date,
			Text:      text,
			Views:     it.Views,
			Forwards:  it.Forwards,
			HasMedia:  it.HasMedia,
			MediaType: it.MediaType,
			ExtraData: datatypes.JSONMap(it.RawData),
		}

		// FirstOrCreate 命中已有记录时会把旧值读回 n，便于下面对比正文
		if err := s.DB.Where("channel = ? AND message_id = ?", it.Channel, it.MessageID).FirstOrCreate(n).Error; err != nil {
			return err
		}

		updates := map[string]any{
			"text":     text,
			"views":    it.Views,
			"forwards": it.Forwards,
		}
		if n.Text != text {
			updates["edited"] = true
		}
		_ = s.DB.Model(n).Updates(updates).Error
	}

	// 不做按 key 通配删除，依赖短 TTL 的缓存自然过期
	return nil
}

// 最新窗口的缓存 TTL 要短于客户端 5 秒的轮询周期，否则轮询端永远读到同一份
const latestCacheTTL = 3 * time.Second

// ListLatest 返回某频道最近的 limit 条消息（时间倒序，同一时间按 id 倒序），
// 并使用 Redis 做短 TTL 缓存，这是轮询端反复命中的热点查询。
func (s *Store) ListLatest(channel string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	ctx := context.Background()
	cacheKey := fmt.Sprintf("messages:latest:%s:%d", channel, limit)

	if s.Redis != nil {
		if bs, err := s.Redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var cached []Message
			if err := json.Unmarshal(bs, &cached); err == nil {
				return cached, nil
			}
		}
	}

	var list []Message
	err := s.DB.Model(&Message{}).
		Where("channel = ?", channel).
		Order("date DESC").
		Order("message_id DESC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, err
	}

	if s.Redis != nil && len(list) > 0 {
		if bs, err := json.Marshal(list); err == nil {
			_ = s.Redis.Set(ctx, cacheKey, bs, latestCacheTTL).Err()
		}
	}

	return list, nil
}

// ListSince 返回某频道最近 hours 小时内的消息（时间倒序）
func (s *Store) ListSince(channel string, hours int) ([]Message, error) {
	if hours <= 0 {
		hours = 1
	}
	if hours > 7*24 {
		hours = 7 * 24
	}

	var list []Message
	err := s.DB.Model(&Message{}).
		Where("channel = ? AND date >= ?", channel, time.Now().Add(-time.Duration(hours)*time.Hour)).
		Order("date DESC").
		Order("message_id DESC").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}
