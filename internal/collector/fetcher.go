package collector

import "time"

// ChannelMessage 统一采集后的基础消息结构
type ChannelMessage struct {
	MessageID int64
	Channel   string
	Date      time.Time
	Text      string
	Views     int
	Forwards  int
	HasMedia  bool
	MediaType string
	RawData   map[string]any
}

// Fetcher 抽象每一个频道数据源
type Fetcher interface {
	Name() string
	Fetch() ([]ChannelMessage, error)
}
