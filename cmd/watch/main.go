package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gadicohen93/Veriver/internal/feedsync"
	"github.com/gadicohen93/Veriver/internal/storage"
)

// 终端里的实时频道视图：订阅频道后启动轮询器，按当前排序方向渲染快照。
// 支持的 stdin 命令：asc / desc 切换排序，watch <channel> 切换频道，
// history [hours] 拉取时间窗内的历史消息，q 退出。
func main() {
	var (
		apiBase   = flag.String("api", "http://localhost:9000/api/v1/channels", "feed API 基础地址")
		channel   = flag.String("channel", "", "要监听的频道（@name 或 t.me 链接均可）")
		limit     = flag.Int("limit", 10, "latest 窗口大小")
		interval  = flag.Duration("interval", feedsync.DefaultPollInterval, "轮询周期")
		sortFlag  = flag.String("sort", "desc", "排序方向：asc / desc")
		subscribe = flag.Bool("subscribe", true, "启动时先向服务端订阅该频道")
	)
	flag.Parse()

	code := storage.NormalizeChannel(*channel)
	if code == "" {
		log.Fatalf("invalid or missing -channel: %q", *channel)
	}

	direction := feedsync.SortDescending
	if *sortFlag == "asc" {
		direction = feedsync.SortAscending
	}

	if *subscribe {
		if err := subscribeChannel(*apiBase, code); err != nil {
			log.Printf("warn: subscribe %s: %v", code, err)
		}
	}

	src := feedsync.NewHTTPSource(*apiBase)
	poller := feedsync.NewPoller(src, *limit, *interval)
	defer poller.Stop()
	poller.Watch(code, direction)

	cmds := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			cmds <- strings.TrimSpace(sc.Text())
		}
		close(cmds)
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	// history 输出后暂停刷屏一段时间，避免立刻被下一帧覆盖
	var pauseUntil time.Time

	for {
		select {
		case line, ok := <-cmds:
			if !ok {
				cmds = nil // stdin 关闭后只渲染，不再读命令
				continue
			}
			switch {
			case line == "q" || line == "quit":
				return
			case line == "asc":
				direction = feedsync.SortAscending
				poller.Current().SetSortDirection(direction)
			case line == "desc":
				direction = feedsync.SortDescending
				poller.Current().SetSortDirection(direction)
			case strings.HasPrefix(line, "history"):
				hours := 1
				if rest := strings.TrimSpace(strings.TrimPrefix(line, "history")); rest != "" {
					_, _ = fmt.Sscanf(rest, "%d", &hours)
				}
				printHistory(src, poller.Current().Feed(), hours)
				pauseUntil = time.Now().Add(10 * time.Second)
			case strings.HasPrefix(line, "watch "):
				next := storage.NormalizeChannel(strings.TrimPrefix(line, "watch "))
				if next == "" {
					fmt.Println("invalid channel")
					continue
				}
				if *subscribe {
					if err := subscribeChannel(*apiBase, next); err != nil {
						log.Printf("warn: subscribe %s: %v", next, err)
					}
				}
				// 切换频道：上一代轮询被取消，在途结果不会污染新频道
				poller.Watch(next, direction)
			}
		case <-ticker.C:
			if time.Now().Before(pauseUntil) {
				continue
			}
			render(poller.Current())
		}
	}
}

// subscribeChannel 向服务端登记订阅，服务端会立即回填最近窗口
func subscribeChannel(apiBase, channel string) error {
	payload, err := json.Marshal(map[string]string{"channel": channel})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(strings.TrimRight(apiBase, "/"), "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subscribe: unexpected status %s", resp.Status)
	}
	return nil
}

// printHistory 一次性拉取时间窗内的消息并打印，不进入轮询状态
func printHistory(src *feedsync.HTTPSource, feed string, hours int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msgs, err := src.RecentMessages(ctx, feed, hours)
	if err != nil {
		fmt.Printf("history error: %v\n", err)
		return
	}
	fmt.Printf("last %dh of %s: %d messages\n", hours, feed, len(msgs))
	for _, m := range msgs {
		fmt.Printf("%8d  %s  %s\n", m.ID, m.Timestamp.Local().Format("01-02 15:04"), firstLine(m.Text, 60))
	}
}

func render(s *feedsync.Synchronizer) {
	fmt.Print("\033[H\033[2J") // 清屏回到左上角

	fmt.Printf("channel: %s    messages: %d    high-water: %d\n", s.Feed(), s.Len(), s.LastSeenID())
	if s.Loading() {
		fmt.Println("loading ...")
		return
	}
	if err := s.Err(); err != nil {
		fmt.Printf("last fetch error: %v\n", err)
		if s.Len() == 0 {
			return
		}
	}

	fmt.Println(strings.Repeat("-", 80))
	for _, m := range s.Snapshot() {
		media := " "
		if m.HasMedia {
			media = "*"
		}
		fmt.Printf("%8d  %s  %s %6d  %s\n",
			m.ID,
			m.Timestamp.Local().Format("01-02 15:04"),
			media,
			m.Views,
			firstLine(m.Text, 60),
		)
	}
}

// firstLine 取正文首行并按 rune 截断，保证表格不换行
func firstLine(s string, limit int) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	rs := []rune(s)
	if len(rs) > limit {
		return string(rs[:limit]) + "…"
	}
	return s
}
