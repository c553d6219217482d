// Package scheduler runs the proactive background work: daily summaries,
// task check-ins, deadline reminders, auto-archival, and recurring-task
// regeneration. Work is computed fresh every tick from the database, so
// config edits take effect without a restart and nothing is lost across
// process restarts.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/mindloop/aria/internal/db"
	"github.com/mindloop/aria/internal/logging"
	"github.com/mindloop/aria/internal/pipeline"
	"github.com/mindloop/aria/internal/tasks"
)

// Notifier delivers a proactive message to a user's channel
type Notifier interface {
	Notify(ctx context.Context, userID string, chatID int64, text string) error
}

// Config keys read fresh each tick. Defaults apply when unset.
const (
	cfgSummaryHour   = "daily_summary_hour"  // default 8
	cfgCheckinHours  = "checkin_hours"       // default "9,14,18"
	cfgArchiveDays   = "archive_after_days"  // default 7
	cfgReminderLead  = "reminder_lead_mins"  // default 60
	defaultWorkers   = 4
	settingCheckins  = "checkin_hours"   // per-user override, "off" disables
	settingLastSumm  = "last_summary_on" // date of last daily summary
	settingLastCheck = "last_checkin_at" // date:hour of last check-in
)

// Scheduler owns the one-minute tick. Per-user checks run concurrently
// under a bounded pool and serialize against the interactive pipeline via
// the shared user locks.
type Scheduler struct {
	Store    *db.Store
	Tasks    *tasks.Service
	Events   pipeline.EventSource
	Sessions *pipeline.SessionManager
	Locks    *pipeline.UserLocks
	Notify   Notifier
	Workers  int
	Location *time.Location

	cron *cron.Cron
}

// Start begins ticking once per minute
func (s *Scheduler) Start() error {
	if s.Location == nil {
		s.Location = time.Local
	}
	s.cron = cron.New(cron.WithLocation(s.Location))
	_, err := s.cron.AddFunc("@every 1m", func() { s.Tick(context.Background(), time.Now().In(s.Location)) })
	if err != nil {
		return fmt.Errorf("cron setup failed: %w", err)
	}
	s.cron.Start()
	logging.Infof("[Scheduler] Started, ticking every minute")
	return nil
}

// Stop halts ticking and waits for in-flight runs
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	logging.Infof("[Scheduler] Stopped")
}

type tickConfig struct {
	summaryHour  int
	checkinHours []int
	archiveDays  int
	reminderLead time.Duration
}

// loadConfig reads the global config fresh. Any read failure falls back to
// defaults for this tick.
func (s *Scheduler) loadConfig(ctx context.Context) tickConfig {
	cfg := tickConfig{
		summaryHour:  8,
		checkinHours: []int{9, 14, 18},
		archiveDays:  7,
		reminderLead: time.Hour,
	}
	if v, err := s.Store.GlobalConfig(ctx, cfgSummaryHour, "8"); err == nil {
		if h, err := strconv.Atoi(v); err == nil && h >= 0 && h <= 23 {
			cfg.summaryHour = h
		}
	}
	if v, err := s.Store.GlobalConfig(ctx, cfgCheckinHours, "9,14,18"); err == nil {
		cfg.checkinHours = db.ParseCheckinHours(v)
	}
	if v, err := s.Store.GlobalConfig(ctx, cfgArchiveDays, "7"); err == nil {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			cfg.archiveDays = d
		}
	}
	if v, err := s.Store.GlobalConfig(ctx, cfgReminderLead, "60"); err == nil {
		if m, err := strconv.Atoi(v); err == nil && m > 0 {
			cfg.reminderLead = time.Duration(m) * time.Minute
		}
	}
	return cfg
}

// Tick runs one scheduler pass. Exported so tests and the admin API can
// trigger it directly.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	cfg := s.loadConfig(ctx)
	users, err := s.Store.ListUsers(ctx)
	if err != nil {
		logging.Errorf("[Scheduler] User list failed: %v", err)
		return
	}
	if len(users) == 0 {
		return
	}

	workers := s.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, u := range users {
		user := u
		g.Go(func() error {
			s.checkUser(gctx, user, cfg, now)
			return nil
		})
	}
	g.Wait()
}

// checkUser runs every proactive check for one user under their lock, so a
// check-in never interleaves with an interactive reply.
func (s *Scheduler) checkUser(ctx context.Context, user *db.User, cfg tickConfig, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("[Scheduler] Panic checking user %s: %v", user.UserID, r)
		}
	}()

	s.Locks.Lock(user.UserID)
	defer s.Locks.Unlock(user.UserID)

	if now.Hour() == cfg.summaryHour {
		s.sendDailySummary(ctx, user, now)
	}
	s.sendCheckin(ctx, user, cfg, now)
	s.sendDeadlineReminders(ctx, user, cfg, now)
	s.regenerateRecurring(ctx, user, now)
	if m := now.Minute(); m >= 30 && m < 35 {
		s.archiveOld(ctx, user, cfg, now)
	}
}

func (s *Scheduler) sendDailySummary(ctx context.Context, user *db.User, now time.Time) {
	today := now.Format("2006-01-02")
	last, err := s.Store.UserSetting(ctx, user.UserID, settingLastSumm)
	if err != nil {
		logging.Errorf("[Scheduler] Summary marker read failed for %s: %v", user.UserID, err)
		return
	}
	if last == today {
		return
	}

	text, empty := s.BuildSummary(ctx, user.UserID, now)
	if empty {
		// Nothing to report; still mark the day so we don't rebuild every minute
		s.Store.SetUserSetting(ctx, user.UserID, settingLastSumm, today)
		return
	}
	if err := s.Notify.Notify(ctx, user.UserID, user.ChatID, text); err != nil {
		logging.Errorf("[Scheduler] Summary send failed for %s: %v", user.UserID, err)
		return
	}
	s.Store.SetUserSetting(ctx, user.UserID, settingLastSumm, today)
	logging.Infof("[Scheduler] Daily summary sent to %s", user.UserID)
}

// BuildSummary renders the daily summary. Also used by the /summary
// command. The empty flag is true when there is nothing worth sending.
func (s *Scheduler) BuildSummary(ctx context.Context, userID string, now time.Time) (string, bool) {
	pending, err := s.Tasks.Prioritized(ctx, userID, 0, "pending")
	if err != nil {
		logging.Errorf("[Scheduler] Task read failed for %s: %v", userID, err)
		pending = nil
	}

	var todayEvents []string
	if s.Events != nil {
		events, err := s.Events.EventsForDate(ctx, now)
		if err != nil {
			logging.Errorf("[Scheduler] Calendar read failed: %v", err)
		}
		for _, e := range events {
			todayEvents = append(todayEvents, fmt.Sprintf("  - %s: %s", e.Time, e.Title))
		}
	}

	if len(pending) == 0 && len(todayEvents) == 0 {
		return "", true
	}

	var overdue, dueToday, highPriority []*db.Task
	today := now.Format("2006-01-02")
	for _, t := range pending {
		if t.Priority == "high" {
			highPriority = append(highPriority, t)
		}
		if t.Deadline == nil {
			continue
		}
		switch {
		case t.Deadline.Before(now) && t.Deadline.Format("2006-01-02") != today:
			overdue = append(overdue, t)
		case t.Deadline.Format("2006-01-02") == today:
			dueToday = append(dueToday, t)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "GOOD MORNING - %s\n\n", now.Format("Monday, January 2"))

	focus := pickFocus(overdue, dueToday, highPriority)
	if len(focus) > 0 {
		sb.WriteString("TODAY'S FOCUS:\n")
		for i, f := range focus {
			suffix := ""
			if f.reason == "overdue" {
				suffix = " (overdue!)"
			}
			fmt.Fprintf(&sb, "  %d. %s%s\n", i+1, f.task.Title, suffix)
		}
		sb.WriteString("\n")
	}

	if len(todayEvents) > 0 {
		sb.WriteString("CALENDAR:\n")
		for i, line := range todayEvents {
			if i >= 4 {
				break
			}
			sb.WriteString(line + "\n")
		}
		sb.WriteString("\n")
	}

	if len(overdue) > 0 {
		fmt.Fprintf(&sb, "WARNING: %d overdue task(s)\n  Use /deadlines to see them\n\n", len(overdue))
	}

	sb.WriteString("STATS:\n")
	fmt.Fprintf(&sb, "  - %d pending tasks", len(pending))
	if len(highPriority) > 0 {
		fmt.Fprintf(&sb, " (%d high priority)", len(highPriority))
	}
	sb.WriteString("\n")
	if len(dueToday) > 0 {
		fmt.Fprintf(&sb, "  - %d due today\n", len(dueToday))
	}
	if len(overdue) > 0 {
		fmt.Fprintf(&sb, "  - %d overdue\n", len(overdue))
	}
	return sb.String(), false
}

type focusItem struct {
	task   *db.Task
	reason string
}

func pickFocus(overdue, dueToday, highPriority []*db.Task) []focusItem {
	var focus []focusItem
	seen := map[string]bool{}
	add := func(list []*db.Task, reason string, max int) {
		for i, t := range list {
			if i >= max || len(focus) >= 3 || seen[t.TaskID] {
				continue
			}
			seen[t.TaskID] = true
			focus = append(focus, focusItem{t, reason})
		}
	}
	add(overdue, "overdue", 2)
	add(dueToday, "today", 2)
	add(highPriority, "priority", 2)
	return focus
}

var checkinGreetings = []string{
	"Hey! Just checking in on '%s'.",
	"Quick check-in: How's '%s' going?",
	"Thinking about you! How's progress on '%s'?",
}

func (s *Scheduler) sendCheckin(ctx context.Context, user *db.User, cfg tickConfig, now time.Time) {
	hours := cfg.checkinHours
	if v, err := s.Store.UserSetting(ctx, user.UserID, settingCheckins); err == nil && v != "" {
		hours = db.ParseCheckinHours(v)
	}
	if !containsHour(hours, now.Hour()) {
		return
	}

	marker := fmt.Sprintf("%s:%d", now.Format("2006-01-02"), now.Hour())
	last, err := s.Store.UserSetting(ctx, user.UserID, settingLastCheck)
	if err != nil || last == marker {
		return
	}

	candidates, err := s.Tasks.CheckinCandidates(ctx, user.UserID, 1, now)
	if err != nil {
		logging.Errorf("[Scheduler] Check-in candidate scan failed for %s: %v", user.UserID, err)
		return
	}
	if len(candidates) == 0 {
		return
	}
	task := candidates[0]

	msg := fmt.Sprintf(checkinGreetings[rand.Intn(len(checkinGreetings))], task.Title)
	if task.ProgressPercent > 0 {
		msg += fmt.Sprintf(" Last I heard you were at %d%%.", task.ProgressPercent)
	} else {
		msg += " Have you had a chance to start on it?"
	}
	if task.Deadline != nil {
		msg += deadlinePhrase(task.Deadline, now)
	}
	msg += "\n\nReply with your progress (\"done\", \"50%\", \"blocked\")."

	if err := s.Notify.Notify(ctx, user.UserID, user.ChatID, msg); err != nil {
		logging.Errorf("[Scheduler] Check-in send failed for %s: %v", user.UserID, err)
		return
	}
	s.Store.SetUserSetting(ctx, user.UserID, settingLastCheck, marker)
	s.Sessions.Open(user.UserID, task.TaskID, task.Title)
	s.Store.UpdateTaskFields(ctx, user.UserID, task.TaskID, map[string]any{"last_discussed": now})
	logging.Infof("[Scheduler] Check-in sent to %s for %q", user.UserID, task.Title)
}

func deadlinePhrase(deadline *time.Time, now time.Time) string {
	days := int(deadline.Sub(now).Hours() / 24)
	switch {
	case deadline.Before(now):
		past := int(now.Sub(*deadline).Hours()/24) + 1
		return fmt.Sprintf(" (This was due %d day(s) ago!)", past)
	case days == 0:
		return " (Due today!)"
	case days == 1:
		return " (Due tomorrow)"
	case days <= 3:
		return fmt.Sprintf(" (Due in %d days)", days)
	}
	return ""
}

// sendDeadlineReminders fires at most one reminder per task, tracked by a
// marker on the task row so restarts never re-fire.
func (s *Scheduler) sendDeadlineReminders(ctx context.Context, user *db.User, cfg tickConfig, now time.Time) {
	pending, err := s.Store.TasksByUser(ctx, user.UserID, "pending")
	if err != nil {
		logging.Errorf("[Scheduler] Reminder scan failed for %s: %v", user.UserID, err)
		return
	}
	for _, t := range pending {
		if t.Deadline == nil || t.RemindedAt != nil {
			continue
		}
		until := t.Deadline.Sub(now)
		if until <= 0 || until >= cfg.reminderLead {
			continue
		}
		msg := fmt.Sprintf("REMINDER: '%s' is due in less than %s!", t.Title, humanLead(cfg.reminderLead))
		if err := s.Notify.Notify(ctx, user.UserID, user.ChatID, msg); err != nil {
			logging.Errorf("[Scheduler] Reminder send failed for %s: %v", user.UserID, err)
			continue
		}
		if err := s.Store.UpdateTaskFields(ctx, user.UserID, t.TaskID, map[string]any{"reminded_at": now}); err != nil {
			logging.Errorf("[Scheduler] Reminder marker write failed for %s: %v", t.TaskID, err)
		}
	}
}

func humanLead(lead time.Duration) string {
	if lead == time.Hour {
		return "an hour"
	}
	return lead.String()
}

func (s *Scheduler) regenerateRecurring(ctx context.Context, user *db.User, now time.Time) {
	created, err := s.Tasks.RegenerateRecurring(ctx, user.UserID, now)
	if err != nil {
		logging.Errorf("[Scheduler] Recurring regeneration failed for %s: %v", user.UserID, err)
		return
	}
	for _, t := range created {
		due := ""
		if t.Deadline != nil {
			due = t.Deadline.Format(" (Mon Jan 2 at 3:04PM)")
		}
		msg := fmt.Sprintf("Recurring task renewed: '%s'%s", t.Title, due)
		if err := s.Notify.Notify(ctx, user.UserID, user.ChatID, msg); err != nil {
			logging.Errorf("[Scheduler] Recurrence notice failed for %s: %v", user.UserID, err)
		}
	}
}

func (s *Scheduler) archiveOld(ctx context.Context, user *db.User, cfg tickConfig, now time.Time) {
	n, err := s.Tasks.ArchiveOld(ctx, user.UserID, time.Duration(cfg.archiveDays)*24*time.Hour, now)
	if err != nil {
		logging.Errorf("[Scheduler] Auto-archive failed for %s: %v", user.UserID, err)
		return
	}
	if n > 0 {
		logging.Infof("[Scheduler] Auto-archived %d task(s) for %s", n, user.UserID)
	}
}

func containsHour(hours []int, h int) bool {
	for _, v := range hours {
		if v == h {
			return true
		}
	}
	return false
}
