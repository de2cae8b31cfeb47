package agent

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Report counters.
const (
	CounterScanned  = "scanned"
	CounterExcluded = "excluded"
	CounterNew      = "new"
	CounterChanged  = "changed"
	CounterDeleted  = "deleted"
	CounterUploaded = "uploaded"
	CounterFailed   = "failed"
	CounterBytes    = "bytes"
	CounterArchives = "archives"
	CounterPurged   = "purged"
	CounterErrors   = "errors"

	// CounterSuperseded counts versions replaced by a newer one before delivery.
	CounterSuperseded = "superseded"
)

var summaryOrder = []string{
	CounterScanned, CounterExcluded, CounterNew, CounterChanged, CounterDeleted,
	CounterUploaded, CounterFailed, CounterSuperseded, CounterBytes, CounterArchives, CounterPurged, CounterErrors,
}

// Level of a report message.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Message is one line of a report.
type Message struct {
	At    time.Time
	Level Level
	Job   string
	Text  string
}

// Report collects what happened during one cycle. Safe for concurrent use.
type Report struct {
	mu         sync.Mutex
	clock      Clock
	startedAt  time.Time
	finishedAt time.Time
	counters   map[string]int64
	messages   []Message
}

func NewReport(clock Clock) *Report {
	return &Report{
		clock:     clock,
		startedAt: clock.Now(),
		counters:  make(map[string]int64),
	}
}

// Add increments a counter.
func (r *Report) Add(counter string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[counter] += delta
}

// Count returns the value of a counter.
func (r *Report) Count(counter string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[counter]
}

// Counters returns a copy of all counters.
func (r *Report) Counters() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.counters))
	for k, v := range r.counters {
		out[k] = v
	}
	return out
}

func (r *Report) add(level Level, job, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{At: r.clock.Now(), Level: level, Job: job, Text: text})
	if level == LevelError {
		r.counters[CounterErrors]++
	}
}

func (r *Report) Infof(job, format string, args ...any) {
	r.add(LevelInfo, job, fmt.Sprintf(format, args...))
}

func (r *Report) Warnf(job, format string, args ...any) {
	r.add(LevelWarn, job, fmt.Sprintf(format, args...))
}

// Error records err against job and increments the error counter.
func (r *Report) Error(job string, err error) {
	r.add(LevelError, job, err.Error())
}

// Messages returns a copy of the messages in the order they were added.
func (r *Report) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Failed reports whether any error was recorded.
func (r *Report) Failed() bool {
	return r.Count(CounterErrors) > 0
}

// Finish stamps the end of the cycle.
func (r *Report) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishedAt = r.clock.Now()
}

func (r *Report) StartedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startedAt
}

// Duration is the time between creation and Finish.
func (r *Report) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finishedAt.IsZero() {
		return 0
	}
	return r.finishedAt.Sub(r.startedAt)
}

// Summary renders the non-zero counters on one line.
func (r *Report) Summary() string {
	counters := r.Counters()

	var parts []string
	seen := make(map[string]bool, len(summaryOrder))
	for _, k := range summaryOrder {
		seen[k] = true
		if v := counters[k]; v != 0 {
			parts = append(parts, formatCounter(k, v))
		}
	}
	var extra []string
	for k := range counters {
		if !seen[k] && counters[k] != 0 {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		parts = append(parts, formatCounter(k, counters[k]))
	}

	if len(parts) == 0 {
		parts = append(parts, "nothing to do")
	}
	if d := r.Duration(); d > 0 {
		parts = append(parts, "in "+d.Round(time.Millisecond).String())
	}
	return strings.Join(parts, " ")
}

func formatCounter(k string, v int64) string {
	if k == CounterBytes {
		return k + "=" + humanize.Bytes(uint64(v))
	}
	return fmt.Sprintf("%s=%d", k, v)
}
