package processor

import (
	"fmt"
	"strings"
	"time"

	"github.com/gadicohen93/Veriver/internal/collector"
)

// 正文入库长度上限（rune 数），与存储层字段长度保持一致
const maxTextRunes = 4000

// ProcessedMessage 是写入存储层前的统一结构
type ProcessedMessage struct {
	Channel   string
	MessageID int64
	Date      time.Time
	Text      string
	Views     int
	Forwards  int
	HasMedia  bool
	MediaType string
	RawData   map[string]any
}

// MessageProcessor 做最基础的数据清洗与批内去重
type MessageProcessor struct{}

func NewMessageProcessor() *MessageProcessor {
	return &MessageProcessor{}
}

func (p *MessageProcessor) Process(items []collector.ChannelMessage) []ProcessedMessage {
	out := make([]ProcessedMessage, 0, len(items))
	seen := make(map[string]struct{})

	for _, it := range items {
		// 没有 id 或时间的消息无法去重和排序，直接丢弃
		if it.MessageID <= 0 || it.Channel == "" || it.Date.IsZero() {
			continue
		}
		key := messageKey(it.Channel, it.MessageID)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		text := truncateRunes(toValidUTF8(strings.TrimSpace(it.Text)), maxTextRunes)

		mediaType := it.MediaType
		if it.HasMedia && mediaType == "" {
			mediaType = "unknown"
		}

		out = append(out, ProcessedMessage{
			Channel:   it.Channel,
			MessageID: it.MessageID,
			Date:      it.Date,
			Text:      text,
			Views:     it.Views,
			Forwards:  it.Forwards,
			HasMedia:  it.HasMedia,
			MediaType: mediaType,
			RawData:   it.RawData,
		})
	}

	return out
}

// messageKey 批内去重键：同一频道内消息 id 唯一
func messageKey(channel string, id int64) string {
	return fmt.Sprintf("%s/%d", channel, id)
}

// toValidUTF8 将字符串规范为合法 UTF-8，避免 PostgreSQL invalid byte sequence 错误
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// truncateRunes 按 rune 数截断字符串，超长时末尾追加省略号
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit]) + "…"
}
