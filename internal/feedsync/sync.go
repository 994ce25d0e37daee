package feedsync

import (
	"context"
	"sort"
	"sync"
)

// SortDirection 展示序列的排序方向
type SortDirection int

const (
	// SortDescending 最新的在前（默认）
	SortDescending SortDirection = iota
	SortAscending
)

// Synchronizer 维护某个 feed 的本地去重镜像：
// 一次全量 initial load 之后反复做增量合并，任何时刻都能给出
// 按当前方向排好序的快照。items 只归本实例所有，
// 消费方拿到的都是拷贝，方向切换是唯一允许的外部写入。
type Synchronizer struct {
	src   Source
	feed  string
	limit int

	mu         sync.Mutex
	items      map[int64]Message
	view       []Message // 当前排序后的展示序列
	direction  SortDirection
	lastSeenID int64 // 见过的最大消息 id，0 表示还没有成功拉取过
	loading    bool  // 仅 initial load 期间为 true
	lastErr    error // 最近一次拉取失败，成功后清空
}

func New(src Source, feed string, limit int, direction SortDirection) *Synchronizer {
	return &Synchronizer{
		src:       src,
		feed:      feed,
		limit:     limit,
		items:     make(map[int64]Message),
		direction: direction,
	}
}

func (s *Synchronizer) Feed() string {
	return s.feed
}

// InitialLoad 全量加载最近窗口，是唯一允许整体替换 items 的操作。
// 失败时不动已有状态，只记录错误；loading 标志无论成败都会落下。
func (s *Synchronizer) InitialLoad(ctx context.Context) error {
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	msgs, err := s.src.LatestMessages(ctx, s.feed, s.limit)
	if err == nil {
		err = ctx.Err() // 已被取消的代次不应用结果
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false

	if err != nil {
		s.lastErr = err
		return err
	}

	s.items = make(map[int64]Message, len(msgs))
	var maxID int64
	for _, m := range msgs {
		s.items[m.ID] = m
		if m.ID > maxID {
			maxID = m.ID
		}
	}
	s.lastSeenID = maxID
	s.lastErr = nil
	s.resortLocked()
	return nil
}

// Sync 增量同步一轮：重新拉同一个有界窗口，把没见过的 id 合并进来。
// 新消息的判定用 items 中的存在性，而不是和 lastSeenID 比大小——
// 窗口反复返回同一批消息或顺序异常时，阈值过滤会漏或重，存在性过滤不会。
// 已存在的 id 用取回的快照覆盖（浏览数等负载以源为准）。
// lastSeenID 取整个响应的最大 id，而非只看新消息，避免一次瞬时空洞
// 把高水位卡死。失败时 items 与 lastSeenID 原样保留，下一轮照常进行。
// 返回本轮合并进来的新消息条数。
func (s *Synchronizer) Sync(ctx context.Context) (int, error) {
	msgs, err := s.src.LatestMessages(ctx, s.feed, s.limit)
	if err == nil {
		err = ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.lastErr = err
		return 0, err
	}

	added := 0
	for _, m := range msgs {
		if _, ok := s.items[m.ID]; !ok {
			added++
		}
		s.items[m.ID] = m
		if m.ID > s.lastSeenID {
			s.lastSeenID = m.ID
		}
	}

	s.lastErr = nil
	// 重排用的是合并完成这一刻的方向：方向切换和合并竞争时后写者赢
	s.resortLocked()
	return added, nil
}

// SetSortDirection 切换排序方向并就地重排，不触发任何网络请求
func (s *Synchronizer) SetSortDirection(d SortDirection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.direction == d {
		return
	}
	s.direction = d
	s.resortLocked()
}

func (s *Synchronizer) SortDirection() SortDirection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direction
}

// resortLocked 全量重排。窗口只有几十条，O(N log N) 足够，不值得做增量排序。
// 时间相同的消息固定按 id 升序，两个方向下都一样，保证序列确定。
func (s *Synchronizer) resortLocked() {
	view := make([]Message, 0, len(s.items))
	for _, m := range s.items {
		view = append(view, m)
	}
	asc := s.direction == SortAscending
	sort.Slice(view, func(i, j int) bool {
		a, b := view[i], view[j]
		if a.Timestamp.Equal(b.Timestamp) {
			return a.ID < b.ID
		}
		if asc {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Timestamp.After(b.Timestamp)
	})
	s.view = view
}

// Snapshot 返回当前展示序列的拷贝，调用方可随意持有
func (s *Synchronizer) Snapshot() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.view))
	copy(out, s.view)
	return out
}

// Loading 仅在 initial load 进行中为 true，增量轮询从不置起
func (s *Synchronizer) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err 最近一次拉取的错误，任一种拉取成功后清空
func (s *Synchronizer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Synchronizer) LastSeenID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeenID
}

func (s *Synchronizer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
