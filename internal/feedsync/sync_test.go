package feedsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// queueSource 按顺序回放预置的响应，便于精确控制每次拉取的结果
type queueSource struct {
	mu    sync.Mutex
	queue []queued
	calls int
}

type queued struct {
	msgs []Message
	err  error
}

func (q *queueSource) push(msgs []Message) { q.queue = append(q.queue, queued{msgs: msgs}) }
func (q *queueSource) pushErr(err error)   { q.queue = append(q.queue, queued{err: err}) }

func (q *queueSource) LatestMessages(ctx context.Context, feed string, limit int) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if len(q.queue) == 0 {
		return nil, nil
	}
	next := q.queue[0]
	q.queue = q.queue[1:]
	return next.msgs, next.err
}

func (q *queueSource) RecentMessages(ctx context.Context, feed string, hours int) ([]Message, error) {
	return nil, nil
}

func (q *queueSource) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

var baseTime = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

// msg 生成一条测试消息，id 越大时间越新
func msg(id int64) Message {
	return Message{
		ID:        id,
		Timestamp: baseTime.Add(time.Duration(id) * time.Minute),
		Channel:   "durov",
		Text:      "m",
	}
}

func snapshotIDs(s *Synchronizer) []int64 {
	snap := s.Snapshot()
	ids := make([]int64, 0, len(snap))
	for _, m := range snap {
		ids = append(ids, m.ID)
	}
	return ids
}

func equalIDs(got, want []int64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestInitialLoadReplacesStateAndSetsHighWater(t *testing.T) {
	src := &queueSource{}
	src.push([]Message{msg(5), msg(4), msg(3)})

	s := New(src, "durov", 10, SortDescending)
	if err := s.InitialLoad(context.Background()); err != nil {
		t.Fatalf("InitialLoad error: %v", err)
	}

	if s.Loading() {
		t.Fatalf("loading flag should be cleared after initial load")
	}
	if s.Err() != nil {
		t.Fatalf("unexpected error state: %v", s.Err())
	}
	if got := snapshotIDs(s); !equalIDs(got, []int64{5, 4, 3}) {
		t.Fatalf("snapshot = %v, want [5 4 3]", got)
	}
	if s.LastSeenID() != 5 {
		t.Fatalf("LastSeenID = %d, want 5", s.LastSeenID())
	}
}

func TestInitialLoadEmptyFeed(t *testing.T) {
	src := &queueSource{}
	src.push(nil)

	s := New(src, "durov", 10, SortDescending)
	if err := s.InitialLoad(context.Background()); err != nil {
		t.Fatalf("InitialLoad error: %v", err)
	}
	if s.Len() != 0 || s.LastSeenID() != 0 {
		t.Fatalf("empty feed: len=%d lastSeen=%d, want 0/0", s.Len(), s.LastSeenID())
	}
}

// 窗口反复返回重叠的 id 集合，合并后不出现重复
func TestSyncMergesOnlyUnseenIDs(t *testing.T) {
	src := &queueSource{}
	src.push([]Message{msg(5), msg(4), msg(3)})
	src.push([]Message{msg(6), msg(5), msg(4)})
	src.push([]Message{msg(6), msg(5), msg(4)})

	s := New(src, "durov", 10, SortDescending)
	if err := s.InitialLoad(context.Background()); err != nil {
		t.Fatalf("InitialLoad error: %v", err)
	}

	added, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync error: %v", err)
	}
	if added != 1 {
		t.Fatalf("added = %d, want 1 (only id 6 is new)", added)
	}
	if got := snapshotIDs(s); !equalIDs(got, []int64{6, 5, 4, 3}) {
		t.Fatalf("snapshot = %v, want [6 5 4 3]", got)
	}
	if s.LastSeenID() != 6 {
		t.Fatalf("LastSeenID = %d, want 6", s.LastSeenID())
	}

	// 同一窗口再来一遍是无操作
	before := snapshotIDs(s)
	added, err = s.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync error: %v", err)
	}
	if added != 0 {
		t.Fatalf("repeat sync added = %d, want 0", added)
	}
	if got := snapshotIDs(s); !equalIDs(got, before) {
		t.Fatalf("repeat sync changed snapshot: %v -> %v", before, got)
	}
}

func TestSyncNeverDuplicates(t *testing.T) {
	src := &queueSource{}
	src.push([]Message{msg(1), msg(2)})
	// 乱序、重叠、倒退的窗口都不应造成重复
	src.push([]Message{msg(2), msg(1)})
	src.push([]Message{msg(3), msg(1)})
	src.push([]Message{msg(2), msg(3)})

	s := New(src, "durov", 10, SortAscending)
	if err := s.InitialLoad(context.Background()); err != nil {
		t.Fatalf("InitialLoad error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Sync(context.Background()); err != nil {
			t.Fatalf("Sync #%d error: %v", i, err)
		}
	}

	seen := make(map[int64]bool)
	for _, m := range s.Snapshot() {
		if seen[m.ID] {
			t.Fatalf("duplicate id %d in snapshot", m.ID)
		}
		seen[m.ID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 unique ids, got %d", len(seen))
	}
}

// 已存在的 id 以取回的快照为准：浏览数这类负载会被刷新
func TestSyncRefreshesExistingPayload(t *testing.T) {
	src := &queueSource{}
	first := msg(1)
	first.Views = 10
	src.push([]Message{first})

	updated := msg(1)
	updated.Views = 99
	src.push([]Message{updated})

	s := New(src, "durov", 10, SortDescending)
	if err := s.InitialLoad(context.Background()); err != nil {
		t.Fatalf("InitialLoad error: %v", err)
	}
	if _, err := s.Sync(context.Background()); err != nil {
		t.Fatalf("Sync error: %v", err)
	}

	snap := s.Snapshot()
	if len(snap) != 1 || snap[0].Views != 99 {
		t.Fatalf("snapshot = %+v, want single message with views=99", snap)
	}
}

func TestSortDirectionAndTieBreak(t *testing.T) {
	sameTime := baseTime
	a := Message{ID: 1, Timestamp: sameTime}
	b := Message{ID: 2, Timestamp: sameTime}
	c := Message{ID: 3, Timestamp: sameTime.Add(time.Hour)}

	src := &queueSource{}
	src.push([]Message{c, b, a})

	s := New(src, "durov", 10, SortDescending)
	if err := s.InitialLoad(context.Background()); err != nil {
		t.Fatalf("InitialLoad error: %v", err)
	}

	// 倒序：时间新的在前；时间相同的按 id 升序
	if got := snapshotIDs(s); !equalIDs(got, []int64{3, 1, 2}) {
		t.Fatalf("descending snapshot = %v, want [3 1 2]", got)
	}

	s.SetSortDirection(SortAscending)
	if got := snapshotIDs(s); !equalIDs(got, []int64{1, 2, 3}) {
		t.Fatalf("ascending snapshot = %v, want [1 2 3]", got)
	}
}

func TestSetSortDirectionIssuesNoFetch(t *testing.T) {
	src := &queueSource{}
	src.push([]Message{msg(1), msg(2)})

	s := New(src, "durov", 10, SortDescending)
	if err := s.InitialLoad(context.Background()); err != nil {
		t.Fatalf("InitialLoad error: %v", err)
	}

	calls := src.callCount()
	s.SetSortDirection(SortAscending)
	s.SetSortDirection(SortAscending) // 幂等
	s.SetSortDirection(SortDescending)
	if src.callCount() != calls {
		t.Fatalf("SetSortDirection triggered fetches: %d -> %d", calls, src.callCount())
	}
}

func TestSyncFailureLeavesStateUntouched(t *testing.T) {
	src := &queueSource{}
	src.push([]Message{msg(5), msg(4)})
	src.pushErr(&FetchError{StatusCode: 502, Status: "502 Bad Gateway"})
	src.push([]Message{msg(6), msg(5)})

	s := New(src, "durov", 10, SortDescending)
	if err := s.InitialLoad(context.Background()); err != nil {
		t.Fatalf("InitialLoad error: %v", err)
	}

	beforeIDs := snapshotIDs(s)
	beforeSeen := s.LastSeenID()

	if _, err := s.Sync(context.Background()); err == nil {
		t.Fatalf("expected sync failure")
	}
	if s.Loading() {
		t.Fatalf("sync failure must not raise loading flag")
	}
	if got := snapshotIDs(s); !equalIDs(got, beforeIDs) {
		t.Fatalf("failed sync changed items: %v -> %v", beforeIDs, got)
	}
	if s.LastSeenID() != beforeSeen {
		t.Fatalf("failed sync changed lastSeenID: %d -> %d", beforeSeen, s.LastSeenID())
	}

	var fe *FetchError
	if !errors.As(s.Err(), &fe) || fe.StatusCode != 502 {
		t.Fatalf("Err() = %v, want FetchError 502", s.Err())
	}

	// 失败之后的下一轮照常合并，并清掉错误
	added, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("recovery sync error: %v", err)
	}
	if added != 1 {
		t.Fatalf("recovery sync added = %d, want 1", added)
	}
	if s.Err() != nil {
		t.Fatalf("error should clear on success, got %v", s.Err())
	}
}

func TestInitialLoadFailureKeepsPriorState(t *testing.T) {
	src := &queueSource{}
	src.push([]Message{msg(1)})
	src.pushErr(errors.New("network down"))

	s := New(src, "durov", 10, SortDescending)
	if err := s.InitialLoad(context.Background()); err != nil {
		t.Fatalf("InitialLoad error: %v", err)
	}
	if err := s.InitialLoad(context.Background()); err == nil {
		t.Fatalf("expected initial load failure")
	}

	if got := snapshotIDs(s); !equalIDs(got, []int64{1}) {
		t.Fatalf("failed initial load changed items: %v", got)
	}
	if s.Loading() {
		t.Fatalf("loading flag should clear on failure too")
	}
	if s.Err() == nil {
		t.Fatalf("error should be recorded for display")
	}
}
