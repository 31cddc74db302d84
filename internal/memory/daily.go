package memory

import (
	"sync"
	"time"
)

type Entry struct {
	Author string
	Text   string
	At     time.Time
}

type dayLog struct {
	day     string
	entries []Entry
}

// DailyLog accumulates raw group messages per conversation for the current
// local day. A message from a new day discards the previous day's entries.
type DailyLog struct {
	loc   *time.Location
	limit int

	mu   sync.Mutex
	logs map[string]*dayLog
}

func NewDailyLog(loc *time.Location, limit int) *DailyLog {
	if loc == nil {
		loc = time.Local
	}
	if limit <= 0 {
		limit = 1
	}
	return &DailyLog{loc: loc, limit: limit, logs: make(map[string]*dayLog)}
}

func (l *DailyLog) dayOf(t time.Time) string {
	return t.In(l.loc).Format(time.DateOnly)
}

func (l *DailyLog) Add(key string, at time.Time, author, text string) {
	day := l.dayOf(at)

	l.mu.Lock()
	defer l.mu.Unlock()
	dl, ok := l.logs[key]
	if !ok || dl.day != day {
		dl = &dayLog{day: day}
		l.logs[key] = dl
	}
	dl.entries = append(dl.entries, Entry{Author: author, Text: text, At: at})
	if over := len(dl.entries) - l.limit; over > 0 {
		dl.entries = append(dl.entries[:0:0], dl.entries[over:]...)
	}
}

// Drain returns and clears the entries logged for key on the local day of at.
// Entries from other days are discarded.
func (l *DailyLog) Drain(key string, at time.Time) []Entry {
	day := l.dayOf(at)

	l.mu.Lock()
	defer l.mu.Unlock()
	dl, ok := l.logs[key]
	if !ok {
		return nil
	}
	delete(l.logs, key)
	if dl.day != day {
		return nil
	}
	return dl.entries
}

func (l *DailyLog) Len(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if dl, ok := l.logs[key]; ok {
		return len(dl.entries)
	}
	return 0
}
