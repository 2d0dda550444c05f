// Package store 按天索引的事件存储，用于去重查询与过期清理
package store

import (
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"gewe-hub/hub"
	"gewe-hub/metrics"
)

// Day 以yyyymmdd表示的自然日
type Day int

func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day(y*10000 + int(m)*100 + d)
}

func (d Day) Time(loc *time.Location) time.Time {
	return time.Date(int(d)/10000, time.Month(int(d)/100%100), int(d)%100, 0, 0, 0, 0, loc)
}

type (
	Entry struct {
		SystemID int64
		DedupID  int64
		Event    hub.Event
		Day      Day
	}

	Store struct {
		mu     sync.RWMutex
		nextID int64
		// days 升序且不重复
		days    []Day
		byDay   map[Day][]int64
		entries map[int64]Entry
		byDedup map[int64]int64

		now func() time.Time
		log *slog.Logger
	}

	Option = func(*Store)
)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		s.log = log
	}
}

func New(options ...Option) *Store {
	s := &Store{
		byDay:   map[Day][]int64{},
		entries: map[int64]Entry{},
		byDedup: map[int64]int64{},
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Insert 保存事件并返回自增id，所属日期取事件的接收时间
// 去重id已存在时只记录警告，不再保存，返回首次保存的id
func (s *Store) Insert(ev hub.Event) int64 {
	day := DayOf(ev.ObservedAt())
	dedupID, isMessage := ev.DedupID()

	s.mu.Lock()
	defer s.mu.Unlock()

	if isMessage {
		if first, ok := s.byDedup[dedupID]; ok {
			s.log.Warn("消息重复", "dedupId", dedupID, "systemId", first)
			metrics.DuplicateEvents.Inc()
			return first
		}
	}

	s.nextID++
	id := s.nextID
	s.entries[id] = Entry{SystemID: id, DedupID: dedupID, Event: ev, Day: day}
	if isMessage {
		s.byDedup[dedupID] = id
	}
	if _, ok := s.byDay[day]; !ok {
		s.insertDay(day)
	}
	s.byDay[day] = append(s.byDay[day], id)
	metrics.StoredEvents.Set(float64(len(s.entries)))
	return id
}

// insertDay 当天追加在末尾，其余日期二分插入
func (s *Store) insertDay(day Day) {
	if n := len(s.days); n == 0 || s.days[n-1] < day {
		s.days = append(s.days, day)
		return
	}
	i, _ := slices.BinarySearch(s.days, day)
	s.days = slices.Insert(s.days, i, day)
}

// LookupByDedupID 根据NewMsgId查询首次保存的消息事件
func (s *Store) LookupByDedupID(dedupID int64) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byDedup[dedupID]
	if !ok {
		return Entry{}, false
	}
	e, ok := s.entries[id]
	return e, ok
}

// PurgeOlderThan 删除早于 今天-retentionDays 的事件，返回删除数量
func (s *Store) PurgeOlderThan(retentionDays int) int {
	cutoff := DayOf(s.now().AddDate(0, 0, -retentionDays))

	s.mu.Lock()
	defer s.mu.Unlock()

	pos := sort.Search(len(s.days), func(i int) bool { return s.days[i] >= cutoff })
	removed := 0
	for _, day := range s.days[:pos] {
		for _, id := range s.byDay[day] {
			e, ok := s.entries[id]
			if !ok {
				continue
			}
			delete(s.entries, id)
			if first, ok := s.byDedup[e.DedupID]; ok && first == id {
				delete(s.byDedup, e.DedupID)
			}
			removed++
		}
		delete(s.byDay, day)
	}
	s.days = slices.Clone(s.days[pos:])
	s.log.Info("清理过期事件完成", "removed", removed, "cutoff", int(cutoff))
	return removed
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Days 当前持有的日期，升序
func (s *Store) Days() []Day {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.days)
}
