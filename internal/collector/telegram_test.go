package collector

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const previewFixture = `<!DOCTYPE html>
<html><body>
<section class="tgme_channel_history">
  <div class="tgme_widget_message" data-post="durov/101">
    <div class="tgme_widget_message_text">First message</div>
    <span class="tgme_widget_message_views">532</span>
    <a class="tgme_widget_message_date"><time datetime="2025-01-10T09:00:00+00:00"></time></a>
  </div>
  <div class="tgme_widget_message" data-post="durov/102">
    <a class="tgme_widget_message_photo_wrap" style="background-image:url('x.jpg')"></a>
    <div class="tgme_widget_message_text">Photo message</div>
    <span class="tgme_widget_message_views">1.2K</span>
    <a class="tgme_widget_message_date"><time datetime="2025-01-10T10:30:00+00:00"></time></a>
  </div>
  <div class="tgme_widget_message" data-post="durov/103">
    <div class="tgme_widget_message_text">No date service block</div>
  </div>
</section>
</body></html>`

func TestTelegramFetchParsesPreviewPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/s/durov" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(previewFixture))
	}))
	defer srv.Close()

	_ = os.Setenv("TELEGRAM_BASE_URL", srv.URL)
	defer os.Unsetenv("TELEGRAM_BASE_URL")

	f := &TelegramChannelFetcher{Channel: "durov"}
	msgs, err := f.Fetch()
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	// 没有时间的服务消息块应被跳过
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}

	first := msgs[0]
	if first.MessageID != 101 {
		t.Fatalf("MessageID = %d, want 101", first.MessageID)
	}
	if first.Channel != "durov" {
		t.Fatalf("Channel = %q, want durov", first.Channel)
	}
	if first.Text != "First message" {
		t.Fatalf("Text = %q", first.Text)
	}
	if first.Views != 532 {
		t.Fatalf("Views = %d, want 532", first.Views)
	}
	wantDate := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	if !first.Date.Equal(wantDate) {
		t.Fatalf("Date = %v, want %v", first.Date, wantDate)
	}
	if first.HasMedia {
		t.Fatalf("first message should not have media")
	}

	second := msgs[1]
	if second.MessageID != 102 {
		t.Fatalf("MessageID = %d, want 102", second.MessageID)
	}
	if !second.HasMedia || second.MediaType != "photo" {
		t.Fatalf("second message media = (%v, %q), want (true, photo)", second.HasMedia, second.MediaType)
	}
	if second.Views != 1200 {
		t.Fatalf("Views = %d, want 1200", second.Views)
	}
}

func TestParseMessageBlockRejectsBadPosts(t *testing.T) {
	cases := []string{
		`<div class="tgme_widget_message"></div>`,
		`<div class="tgme_widget_message" data-post="durov"></div>`,
		`<div class="tgme_widget_message" data-post="durov/abc"></div>`,
		`<div class="tgme_widget_message" data-post="durov/0"></div>`,
	}
	for _, html := range cases {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			t.Fatalf("parse fixture: %v", err)
		}
		if _, ok := parseMessageBlock(doc.Find("div.tgme_widget_message").First(), "durov"); ok {
			t.Fatalf("expected parse failure for %q", html)
		}
	}
}

func TestParseViews(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"532", 532},
		{"1,024", 1024},
		{"1.2K", 1200},
		{"3M", 3000000},
		{"abc", 0},
	}
	for _, c := range cases {
		if got := parseViews(c.in); got != c.want {
			t.Fatalf("parseViews(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}
