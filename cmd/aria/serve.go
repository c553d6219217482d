package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/mindloop/aria/internal/actions"
	"github.com/mindloop/aria/internal/ai"
	"github.com/mindloop/aria/internal/channels"
	"github.com/mindloop/aria/internal/channels/telegram"
	"github.com/mindloop/aria/internal/commands"
	"github.com/mindloop/aria/internal/config"
	"github.com/mindloop/aria/internal/db"
	"github.com/mindloop/aria/internal/logging"
	"github.com/mindloop/aria/internal/memory"
	"github.com/mindloop/aria/internal/pipeline"
	"github.com/mindloop/aria/internal/scheduler"
	"github.com/mindloop/aria/internal/server"
	"github.com/mindloop/aria/internal/services/calendar"
	"github.com/mindloop/aria/internal/services/email"
	"github.com/mindloop/aria/internal/services/notes"
	"github.com/mindloop/aria/internal/tasks"
	"github.com/mindloop/aria/internal/types"
)

// messageTimeout bounds the handling of one inbound message end to end
const messageTimeout = 2 * time.Minute

func serve(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("resolve timezone: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.NewSQLite(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	taskSvc := tasks.New(store)
	memSvc := memory.New(store)

	exec := &actions.Executor{Tasks: taskSvc, Memory: memSvc}
	fetcher := &pipeline.Fetcher{
		History:  &pipeline.StoreHistory{Store: store},
		Memories: memSvc,
		Tasks:    &pipeline.TaskContext{Tasks: taskSvc},
		Contacts: &pipeline.StoreContacts{Store: store},
	}
	var events pipeline.EventSource

	// Google services are optional; without credentials those domains
	// degrade to clean action failures and empty calendar context.
	if cfg.Google.CredentialsFile != "" {
		if calSvc, err := calendar.New(ctx, cfg.Google.CredentialsFile, cfg.Google.CalendarID, loc); err != nil {
			logging.Warnf("[Serve] Calendar unavailable: %v", err)
		} else {
			exec.Calendar = calSvc
			cc := &pipeline.CalendarContext{Calendar: calSvc}
			fetcher.Events = cc
			events = cc
		}
		if cfg.Google.GmailAddress != "" {
			if mailSvc, err := email.New(ctx, cfg.Google.CredentialsFile, cfg.Google.GmailAddress, store); err != nil {
				logging.Warnf("[Serve] Email unavailable: %v", err)
			} else {
				exec.Email = mailSvc
			}
		}
		if noteSvc, err := notes.New(ctx, cfg.Google.CredentialsFile); err != nil {
			logging.Warnf("[Serve] Notes unavailable: %v", err)
		} else {
			exec.Notes = noteSvc
		}
	}

	sessions := pipeline.NewSessionManager(pipeline.DefaultSessionTTL)
	locks := pipeline.NewUserLocks()

	pipe := &pipeline.Pipeline{
		Router:        pipeline.NewRouter(provider),
		Fetcher:       fetcher,
		Planner:       pipeline.NewPlanner(provider),
		Responder:     pipeline.NewResponder(provider),
		Confirmations: pipeline.NewConfirmationManager(pipeline.DefaultConfirmationTTL),
		Sessions:      sessions,
		Locks:         locks,
		Dedup:         pipeline.NewDeduper(0),
		Exec:          exec,
		Log:           store,
		OnProgress:    progressRecorder(store, taskSvc),
	}

	tg := telegram.New(cfg.Telegram.Token)

	sched := &scheduler.Scheduler{
		Store:    store,
		Tasks:    taskSvc,
		Events:   events,
		Sessions: sessions,
		Locks:    locks,
		Notify:   &telegramNotifier{tg: tg},
		Workers:  cfg.Scheduler.Workers,
		Location: loc,
	}

	cmdHandler := &commands.Handler{
		Store:    store,
		Tasks:    taskSvc,
		Sessions: sessions,
		Locks:    locks,
		Summary:  sched.BuildSummary,
	}

	// Per-user queues keep each user's messages in receipt order; the keyed
	// locks alone don't guarantee FIFO handoff between racing goroutines.
	dispatch := channels.NewDispatcher(func(msg channels.InboundMessage) {
		handleMessage(ctx, msg, tg, store, cmdHandler, pipe)
	}, 0)
	tg.SetHandler(dispatch.Dispatch)
	if err := tg.Connect(ctx); err != nil {
		return fmt.Errorf("connect telegram: %w", err)
	}
	defer tg.Disconnect()

	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	go func() {
		if err := config.Watch(ctx, configPath, func(c *config.Config) {
			// Only the worker pool applies live; the rest needs a restart
			sched.Workers = c.Scheduler.Workers
		}); err != nil {
			logging.Warnf("[Serve] Config watch stopped: %v", err)
		}
	}()

	srv := &server.Server{Store: store, Tasks: taskSvc, Started: time.Now(), Version: version}
	return srv.Run(ctx, cfg.Server.Addr)
}

func buildProvider(cfg *config.Config) (ai.Provider, error) {
	var providers []ai.Provider
	if cfg.AI.AnthropicAPIKey != "" {
		providers = append(providers, ai.NewAnthropicProvider(cfg.AI.AnthropicAPIKey, cfg.AI.AnthropicModel))
	}
	if cfg.AI.OpenAIAPIKey != "" {
		providers = append(providers, ai.NewOpenAIProvider(cfg.AI.OpenAIAPIKey, cfg.AI.OpenAIBaseURL, cfg.AI.OpenAIModel))
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no AI providers configured: set an Anthropic or OpenAI API key")
	}
	return ai.NewChain(cfg.AITimeout(), providers...), nil
}

func handleMessage(ctx context.Context, msg channels.InboundMessage, tg *telegram.Adapter,
	store *db.Store, cmdHandler *commands.Handler, pipe *pipeline.Pipeline) {

	ctx, cancel := context.WithTimeout(ctx, messageTimeout)
	defer cancel()

	if err := store.UpsertUser(ctx, msg.UserID, msg.ChatID, msg.Username); err != nil {
		logging.Errorf("[Serve] Upsert user %s failed: %v", msg.UserID, err)
	}

	if msg.IsVoice && msg.Text == "" {
		send(ctx, tg, msg.ChatID, "I can't listen to voice notes yet. Mind typing that out?")
		return
	}

	if reply, ok := cmdHandler.Handle(ctx, msg.UserID, msg.Text); ok {
		send(ctx, tg, msg.ChatID, reply)
		return
	}

	tg.Typing(ctx, msg.ChatID)
	res := pipe.Process(ctx, &types.Message{
		UserID:     msg.UserID,
		ChatID:     msg.ChatID,
		ID:         msg.MessageID,
		Text:       msg.Text,
		ReceivedAt: msg.ReceivedAt,
		IsVoice:    msg.IsVoice,
	})
	if res.Duplicate || res.Reply == "" {
		return
	}
	send(ctx, tg, msg.ChatID, res.Reply)
}

func send(ctx context.Context, tg *telegram.Adapter, chatID int64, text string) {
	if err := tg.Send(ctx, channels.OutboundMessage{ChatID: chatID, Text: text}); err != nil {
		logging.Errorf("[Serve] Send to chat %d failed: %v", chatID, err)
	}
}

// progressRecorder maps parsed progress replies onto the task service
func progressRecorder(store *db.Store, taskSvc *tasks.Service) func(context.Context, string, string, *pipeline.ProgressUpdate) error {
	return func(ctx context.Context, userID, taskID string, update *pipeline.ProgressUpdate) error {
		switch {
		case update.Done:
			_, err := taskSvc.Complete(ctx, userID, taskID)
			return err
		case update.Percent >= 0:
			return taskSvc.UpdateProgress(ctx, userID, taskID, update.Percent, update.Note)
		case update.Blocked:
			t, err := store.GetTask(ctx, userID, taskID)
			if err != nil {
				return err
			}
			if t == nil {
				return fmt.Errorf("task not found: %s", taskID)
			}
			note := "blocked"
			if update.Note != "" {
				note = "blocked: " + update.Note
			}
			return taskSvc.UpdateProgress(ctx, userID, taskID, t.ProgressPercent, note)
		}
		return nil
	}
}

// telegramNotifier delivers proactive messages over the Telegram channel
type telegramNotifier struct {
	tg *telegram.Adapter
}

func (n *telegramNotifier) Notify(ctx context.Context, userID string, chatID int64, text string) error {
	return n.tg.Send(ctx, channels.OutboundMessage{ChatID: chatID, Text: text})
}
