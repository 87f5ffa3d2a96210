package buffer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks hand-off throughput. It is safe for concurrent use.
type Statistics struct {
	pushes int64
	taken  int64
	takes  int64
	drops  int64

	mu          sync.RWMutex
	startTime   time.Time
	currentSize int64
	maxSize     int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{
		startTime: time.Now(),
	}
}

// Push records one pushed item and the resulting queue size.
func (s *Statistics) Push(size int) {
	atomic.AddInt64(&s.pushes, 1)
	s.updateSize(int64(size))
}

// Take records n items leaving the queue in one swap or dequeue.
func (s *Statistics) Take(n int) {
	atomic.AddInt64(&s.takes, 1)
	atomic.AddInt64(&s.taken, int64(n))
	s.mu.Lock()
	s.currentSize -= int64(n)
	if s.currentSize < 0 {
		s.currentSize = 0
	}
	s.mu.Unlock()
}

// Drop records an item dropped on overflow.
func (s *Statistics) Drop() {
	atomic.AddInt64(&s.drops, 1)
}

func (s *Statistics) updateSize(size int64) {
	s.mu.Lock()
	s.currentSize = size
	if size > s.maxSize {
		s.maxSize = size
	}
	s.mu.Unlock()
}

// Pushes returns the total number of pushed items.
func (s *Statistics) Pushes() int64 {
	return atomic.LoadInt64(&s.pushes)
}

// Taken returns the total number of items handed to the consumer.
func (s *Statistics) Taken() int64 {
	return atomic.LoadInt64(&s.taken)
}

// Takes returns how many swaps or dequeues were performed.
func (s *Statistics) Takes() int64 {
	return atomic.LoadInt64(&s.takes)
}

// Drops returns the total number of dropped items.
func (s *Statistics) Drops() int64 {
	return atomic.LoadInt64(&s.drops)
}

// CurrentSize returns the queue size as of the last operation.
func (s *Statistics) CurrentSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// MaxSize returns the largest queue size observed.
func (s *Statistics) MaxSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSize
}

// Throughput returns the average number of pushes per second.
func (s *Statistics) Throughput() float64 {
	s.mu.RLock()
	elapsed := time.Since(s.startTime)
	s.mu.RUnlock()

	if elapsed == 0 {
		return 0.0
	}
	return float64(s.Pushes()) / elapsed.Seconds()
}

// DropRate returns the fraction of pushes that were dropped (0.0 to 1.0).
func (s *Statistics) DropRate() float64 {
	pushes := s.Pushes()
	if pushes == 0 {
		return 0.0
	}
	return float64(s.Drops()) / float64(pushes)
}

// StatsSummary is a snapshot of all statistics.
type StatsSummary struct {
	Pushes      int64   `json:"pushes"`
	Taken       int64   `json:"taken"`
	Takes       int64   `json:"takes"`
	Drops       int64   `json:"drops"`
	CurrentSize int64   `json:"current_size"`
	MaxSize     int64   `json:"max_size"`
	Throughput  float64 `json:"throughput"`
	DropRate    float64 `json:"drop_rate"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Pushes:      s.Pushes(),
		Taken:       s.Taken(),
		Takes:       s.Takes(),
		Drops:       s.Drops(),
		CurrentSize: s.CurrentSize(),
		MaxSize:     s.MaxSize(),
		Throughput:  s.Throughput(),
		DropRate:    s.DropRate(),
	}
}
