package collector

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
)

const (
	telegramDefaultBaseURL = "https://t.me"
	telegramMaxBodyBytes   = 2 << 20 // 2MB，防止超大 HTML 导致 DoS
	telegramClientTimeout  = 10 * time.Second
	telegramUserAgent      = "VeriverBot/1.0"
)

// TelegramChannelFetcher 抓取公开频道的 t.me/s/<channel> 预览页。
// 预览页无需登录即可访问，包含每条消息的 id、时间、正文、浏览数与媒体信息。
type TelegramChannelFetcher struct {
	// Channel 已规范化的频道名（不带 @ 或链接前缀）
	Channel string
	// ScraperURL 可选：browser-scraper 服务地址，预览页需要 JS 时兜底
	ScraperURL string
}

func (f *TelegramChannelFetcher) Name() string {
	return "telegram:" + f.Channel
}

// telegramBaseURL 默认 t.me，可通过环境变量覆盖（测试时指向本地服务）
func telegramBaseURL() string {
	if v := os.Getenv("TELEGRAM_BASE_URL"); v != "" {
		return v
	}
	return telegramDefaultBaseURL
}

func (f *TelegramChannelFetcher) previewURL() string {
	return telegramBaseURL() + "/s/" + f.Channel
}

func (f *TelegramChannelFetcher) Fetch() ([]ChannelMessage, error) {
	log.Printf("fetch telegram channel %s...", f.Channel)

	list := f.fetchWithColly()
	if len(list) == 0 {
		list = f.fetchWithHTTP()
	}
	if len(list) == 0 && f.ScraperURL != "" {
		list = f.fetchViaBrowser()
	}

	if len(list) == 0 {
		log.Printf("fetch telegram %s got 0 messages", f.Channel)
		return nil, nil
	}
	return list, nil
}

func (f *TelegramChannelFetcher) fetchWithColly() []ChannelMessage {
	u, err := url.Parse(telegramBaseURL())
	if err != nil {
		log.Printf("telegram: bad base url: %v", err)
		return nil
	}
	// httptest 等场景 host 带端口，两种写法都加入白名单
	allowed := []string{u.Hostname()}
	if u.Host != u.Hostname() {
		allowed = append(allowed, u.Host)
	}

	c := colly.NewCollector(
		colly.AllowedDomains(allowed...),
		colly.UserAgent(telegramUserAgent),
	)
	c.SetRequestTimeout(telegramClientTimeout)

	results := make([]ChannelMessage, 0, 20)
	c.OnHTML("div.tgme_widget_message", func(e *colly.HTMLElement) {
		if m, ok := parseMessageBlock(e.DOM, f.Channel); ok {
			results = append(results, m)
		}
	})

	if err := c.Visit(f.previewURL()); err != nil {
		log.Printf("telegram: colly visit %s failed: %v", f.Channel, err)
		return nil
	}
	return results
}

// fetchWithHTTP 普通 HTTP 请求兜底：部分网络环境下 colly 的 robots 检查会失败
func (f *TelegramChannelFetcher) fetchWithHTTP() []ChannelMessage {
	client := &http.Client{Timeout: telegramClientTimeout}

	req, err := http.NewRequest(http.MethodGet, f.previewURL(), nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", telegramUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		log.Printf("telegram: http fetch %s failed: %v", f.Channel, err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("telegram: http fetch %s unexpected status %d", f.Channel, resp.StatusCode)
		return nil
	}

	return f.parseDocument(io.LimitReader(resp.Body, telegramMaxBodyBytes))
}

// fetchViaBrowser 调用 browser-scraper 服务渲染预览页后解析，应对需要 JS 的频道页
func (f *TelegramChannelFetcher) fetchViaBrowser() []ChannelMessage {
	payload, err := json.Marshal(map[string]string{
		"url":          f.previewURL(),
		"waitSelector": "div.tgme_widget_message",
	})
	if err != nil {
		return nil
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(f.ScraperURL+"/render", "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Printf("telegram: browser render %s failed: %v", f.Channel, err)
		return nil
	}
	defer resp.Body.Close()

	var rendered struct {
		OK    bool   `json:"ok"`
		HTML  string `json:"html"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, telegramMaxBodyBytes)).Decode(&rendered); err != nil {
		log.Printf("telegram: decode render response: %v", err)
		return nil
	}
	if !rendered.OK {
		log.Printf("telegram: browser render %s error: %s", f.Channel, rendered.Error)
		return nil
	}

	return f.parseDocument(strings.NewReader(rendered.HTML))
}

func (f *TelegramChannelFetcher) parseDocument(r io.Reader) []ChannelMessage {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		log.Printf("telegram: parse html: %v", err)
		return nil
	}

	results := make([]ChannelMessage, 0, 20)
	doc.Find("div.tgme_widget_message").Each(func(i int, s *goquery.Selection) {
		if m, ok := parseMessageBlock(s, f.Channel); ok {
			results = append(results, m)
		}
	})
	return results
}

// parseMessageBlock 解析单条消息块（div.tgme_widget_message）。
// data-post 形如 "channel/12345"，其中数字部分是频道内单调递增的消息 id。
func parseMessageBlock(s *goquery.Selection, channel string) (ChannelMessage, bool) {
	post, ok := s.Attr("data-post")
	if !ok {
		return ChannelMessage{}, false
	}
	idx := strings.LastIndex(post, "/")
	if idx < 0 {
		return ChannelMessage{}, false
	}
	id, err := strconv.ParseInt(post[idx+1:], 10, 64)
	if err != nil || id <= 0 {
		return ChannelMessage{}, false
	}

	var date time.Time
	if dt, ok := s.Find("time").First().Attr("datetime"); ok {
		if t, err := time.Parse(time.RFC3339, dt); err == nil {
			date = t
		}
	}
	if date.IsZero() {
		// 没有时间的块多是服务消息，不入库
		return ChannelMessage{}, false
	}

	text := strings.TrimSpace(s.Find("div.tgme_widget_message_text").First().Text())
	views := parseViews(s.Find("span.tgme_widget_message_views").First().Text())

	mediaType := ""
	switch {
	case s.Find("a.tgme_widget_message_photo_wrap").Length() > 0:
		mediaType = "photo"
	case s.Find("a.tgme_widget_message_video_player").Length() > 0 || s.Find("video").Length() > 0:
		mediaType = "video"
	case s.Find("div.tgme_widget_message_document").Length() > 0:
		mediaType = "document"
	case s.Find("div.tgme_widget_message_poll").Length() > 0:
		mediaType = "poll"
	}

	raw := map[string]any{"post": post}
	if from := strings.TrimSpace(s.Find("a.tgme_widget_message_forwarded_from_name").First().Text()); from != "" {
		raw["forwardedFrom"] = from
	}
	if author := strings.TrimSpace(s.Find("span.tgme_widget_message_from_author").First().Text()); author != "" {
		raw["author"] = author
	}

	return ChannelMessage{
		MessageID: id,
		Channel:   channel,
		Date:      date,
		Text:      text,
		Views:     views,
		HasMedia:  mediaType != "",
		MediaType: mediaType,
		RawData:   raw,
	}, true
}

// parseViews 解析预览页的浏览数文案，如 "532" / "1.2K" / "3M"
func parseViews(s string) int {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0
	}

	mult := 1.0
	switch {
	case strings.HasSuffix(s, "K"):
		mult = 1e3
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult = 1e6
		s = strings.TrimSuffix(s, "M")
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return int(n * mult)
}
