package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/cymtrack/internal/model"
	"github.com/dukerupert/cymtrack/internal/store"
	"github.com/dukerupert/cymtrack/internal/submission"
)

const (
	// MidReminderDay is the first day of the month a mid reminder goes out.
	MidReminderDay = 13
	// EndReminderLead is how many days before the month end the end reminder starts.
	EndReminderLead = 2

	sentRetention = 90 * 24 * time.Hour
)

// DueCheckpoints returns the checkpoints worth reminding about on now's day.
func DueCheckpoints(now time.Time) []model.SubmissionType {
	period := model.PeriodOf(now)
	day := now.Day()

	var due []model.SubmissionType
	if day >= MidReminderDay {
		due = append(due, model.SubmissionMid)
	}
	if day >= period.DaysInMonth()-EndReminderLead {
		due = append(due, model.SubmissionEnd)
	}
	return due
}

// Scheduler periodically reminds subscribed members of open checkpoints.
type Scheduler struct {
	mu          sync.RWMutex
	sender      Sender
	push        *store.PushStore
	submissions *store.SubmissionStore
	interval    time.Duration
	loc         *time.Location
	now         func() time.Time
	logger      *slog.Logger
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewScheduler creates a reminder scheduler. loc decides which calendar day
// "now" is; nil means UTC.
func NewScheduler(sender Sender, pushStore *store.PushStore, subs *store.SubmissionStore, interval time.Duration, loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		sender:      sender,
		push:        pushStore,
		submissions: subs,
		interval:    interval,
		loc:         loc,
		now:         time.Now,
		logger:      logger,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.Tick()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick()
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Tick runs one reminder pass and returns how many notifications were delivered.
func (s *Scheduler) Tick() int {
	now := s.now().In(s.loc)
	due := DueCheckpoints(now)
	if len(due) == 0 {
		return 0
	}
	period := model.PeriodOf(now)

	subs, err := s.push.ListAll()
	if err != nil {
		s.logger.Error("reminder: list subscriptions", "error", err)
		return 0
	}

	byMember := make(map[string][]model.PushSubscription)
	var order []string
	for _, sub := range subs {
		key := model.MemberKey(sub.MemberName)
		if _, ok := byMember[key]; !ok {
			order = append(order, key)
		}
		byMember[key] = append(byMember[key], sub)
	}

	sent := 0
	for _, key := range order {
		memberSubs := byMember[key]
		member := memberSubs[0].MemberName

		records, err := s.submissions.ListForMember(member, period)
		if err != nil {
			s.logger.Error("reminder: list submissions", "member", member, "error", err)
			continue
		}
		lock := submission.LockStateFor(member, period, records)

		for _, t := range due {
			if lock.CanSubmit(t) != nil {
				continue
			}
			n, err := s.remind(member, period, t, memberSubs)
			if err != nil {
				s.logger.Error("reminder: send", "member", member, "type", t, "error", err)
				continue
			}
			sent += n
		}
	}

	if err := s.push.CleanupSent(now.Add(-sentRetention)); err != nil {
		s.logger.Warn("reminder: cleanup sent", "error", err)
	}
	return sent
}

func (s *Scheduler) remind(member string, period model.Period, t model.SubmissionType, subs []model.PushSubscription) (int, error) {
	already, err := s.push.WasSent(member, period, t)
	if err != nil {
		return 0, err
	}
	if already {
		return 0, nil
	}

	payload := PayloadFor(period, t)
	delivered := 0
	for i := range subs {
		sub := subs[i]
		if err := s.sender.Send(&sub, payload); err != nil {
			if errors.Is(err, ErrExpired) {
				if err := s.push.DeleteByEndpoint(sub.Endpoint); err != nil {
					s.logger.Warn("reminder: delete expired subscription", "error", err)
				}
				continue
			}
			s.logger.Warn("reminder: push failed", "member", member, "endpoint_id", sub.ID, "error", err)
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return 0, nil
	}
	if err := s.push.RecordSent(member, period, t); err != nil {
		return delivered, err
	}
	s.logger.Info("reminder sent", "member", member, "year", period.Year, "month", period.Month, "type", t, "devices", delivered)
	return delivered, nil
}

// PayloadFor builds the notification for an open checkpoint.
func PayloadFor(period model.Period, t model.SubmissionType) Payload {
	month := time.Month(period.Month).String()
	p := Payload{
		URL: fmt.Sprintf("/?year=%d&month=%d", period.Year, period.Month),
		Tag: fmt.Sprintf("cym-%d-%02d-%s", period.Year, period.Month, t),
	}
	switch t {
	case model.SubmissionMid:
		p.Title = "Mid-month check-in"
		p.Body = fmt.Sprintf("Submit your devotions for %s 1-15.", month)
	default:
		p.Title = "End-of-month report"
		p.Body = fmt.Sprintf("Submit your %s devotions and meeting attendance.", month)
	}
	return p
}
