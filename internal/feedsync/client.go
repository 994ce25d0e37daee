package feedsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	clientTimeout    = 10 * time.Second
	maxResponseBytes = 4 << 20 // 4MB
)

// Message 一条 feed 消息。ID 在频道内唯一且随发布单调递增，
// Timestamp 是消息在源头的发布时间；其余字段对同步逻辑是不透明负载。
type Message struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Channel   string    `json:"channel"`
	Text      string    `json:"text"`
	Views     int       `json:"views"`
	Forwards  int       `json:"forwards"`
	HasMedia  bool      `json:"hasMedia"`
	MediaType string    `json:"mediaType"`
}

// FetchError 非 2xx 响应。body 不保证可解析，只携带状态行信息。
type FetchError struct {
	StatusCode int
	Status     string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("feedsync: unexpected status %s", e.Status)
}

// Source 抽象远端 feed，便于测试时替换
type Source interface {
	// LatestMessages 拉取最近的 limit 条消息（有界窗口，无游标参数）
	LatestMessages(ctx context.Context, feed string, limit int) ([]Message, error)
	// RecentMessages 拉取最近 hours 小时内的消息
	RecentMessages(ctx context.Context, feed string, hours int) ([]Message, error)
}

// HTTPSource 对接服务端的两个 feed 接口：
// GET <base>/<feed>/latest-messages?limit=n 与 GET <base>/<feed>/messages?hours=n
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: clientTimeout},
	}
}

func (h *HTTPSource) LatestMessages(ctx context.Context, feed string, limit int) ([]Message, error) {
	u := h.baseURL + "/" + feed + "/latest-messages?limit=" + strconv.Itoa(limit)
	return h.fetch(ctx, u)
}

func (h *HTTPSource) RecentMessages(ctx context.Context, feed string, hours int) ([]Message, error) {
	u := h.baseURL + "/" + feed + "/messages?hours=" + strconv.Itoa(hours)
	return h.fetch(ctx, u)
}

func (h *HTTPSource) fetch(ctx context.Context, url string) ([]Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("feedsync: build request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feedsync: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var body struct {
		Messages []Message `json:"messages"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("feedsync: decode response: %w", err)
	}
	return body.Messages, nil
}
