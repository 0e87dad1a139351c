package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/qurio/internal/research"
	"github.com/mohammad-safakhou/qurio/internal/store"
)

// WatchRunner executes one watch-triggered research run to completion.
type WatchRunner interface {
	RunToCompletion(ctx context.Context, userID string, req research.Request) error
}

// Scheduler periodically fires enabled watches whose cron schedule is due.
type Scheduler struct {
	Store    *store.Store
	Runner   WatchRunner
	Rdb      *redis.Client
	Interval time.Duration
	Stop     chan struct{}

	logger *log.Logger
}

func (s *Scheduler) Start() {
	if s.logger == nil {
		s.logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) Shutdown() {
	close(s.Stop)
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	watches, err := s.Store.ListEnabledWatches(ctx)
	if err != nil {
		s.logger.Printf("listing watches: %v", err)
		return
	}
	for _, w := range watches {
		var last *time.Time
		if w.LastRunAt.Valid {
			t := w.LastRunAt.Time
			last = &t
		}
		if !isDue(w.CronSpec, last) {
			continue
		}

		// distributed lock to avoid duplicate runs across replicas
		if s.Rdb != nil {
			lockKey := "sched:lock:" + w.ID
			ok, err := s.Rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
			if err != nil {
				s.logger.Printf("watch %s: lock: %v", w.ID, err)
				continue
			}
			if !ok {
				continue
			}
		}

		if err := s.Store.TouchWatch(ctx, w.ID); err != nil {
			s.logger.Printf("watch %s: touch: %v", w.ID, err)
		}

		go func(w store.Watch) {
			// jitter to avoid stampedes
			time.Sleep(time.Duration(250+time.Now().UnixNano()%250) * time.Millisecond)
			req := research.Request{Question: w.Question, Mode: research.Mode(w.Mode)}
			if err := s.Runner.RunToCompletion(context.Background(), w.UserID, req); err != nil {
				s.logger.Printf("watch %s: %v", w.ID, err)
				return
			}
			s.logger.Printf("watch %s fired", w.ID)
		}(w)
	}
}

// isDue determines if a watch with cronSpec should run now given its last
// fire time. Supports "@daily", "@hourly" and 5-field cron expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
