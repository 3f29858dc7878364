// Package app wires the bot together: config, logging, store, engine,
// and the Discord surface, with explicit start/stop lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"remindbot/internal/config"
	"remindbot/internal/discord"
	"remindbot/internal/engine"
	"remindbot/internal/store"
	"remindbot/internal/timeparse"
	logx "remindbot/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	store    store.Store
	engine   *engine.Service
	session  *discordgo.Session
	commands *discord.Commands

	cancelWatch context.CancelFunc
	wg          sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Discord.Token == "" {
		return nil, errors.New("missing bot token (config discord.token or BOT_TOKEN)")
	}

	logSvc, log := logx.New(logConfig(cfg))
	mgr.SetLogger(log)

	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{Path: cfg.Storage.Path, BusyTimeout: busy}, log.With(logx.String("comp", "store")))
	if err != nil {
		// Unrecoverable: the engine cannot start without its job table.
		return nil, fmt.Errorf("open job store: %w", err)
	}

	resolver, err := timeparse.New(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, err
	}

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds

	dispatchTimeout, err := config.ParseDurationOrDefault("scheduler.dispatch_timeout", cfg.Scheduler.DispatchTimeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	disp := discord.NewDispatcher(session, log.With(logx.String("comp", "dispatch")))
	eng := engine.New(engine.Config{
		Workers:         cfg.Scheduler.Workers,
		QueueSize:       cfg.Scheduler.QueueSize,
		DispatchTimeout: dispatchTimeout,
	}, st, disp, log.With(logx.String("comp", "engine")))

	cmds := discord.NewCommands(session, st, eng, resolver, cfg.Discord.GuildID,
		log.With(logx.String("comp", "commands")))

	return &App{
		cfgMgr:   mgr,
		logSvc:   logSvc,
		log:      log,
		store:    st,
		engine:   eng,
		session:  session,
		commands: cmds,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	if err := a.commands.Register(); err != nil {
		_ = a.session.Close()
		return err
	}
	if err := a.engine.Start(ctx); err != nil {
		_ = a.session.Close()
		return err
	}

	// Config watch: log level and alert webhook apply without restart.
	wctx, cancel := context.WithCancel(context.Background())
	a.cancelWatch = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgMgr.Watch(wctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	sub := a.cfgMgr.Subscribe(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-wctx.Done():
				a.cfgMgr.Unsubscribe(sub)
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.logSvc.Apply(logConfig(cfg))
			}
		}
	}()

	a.log.Info("remindbot started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancelWatch != nil {
		a.cancelWatch()
	}
	err := a.engine.Stop(ctx)
	if cerr := a.session.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := a.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	a.wg.Wait()
	_ = a.logSvc.Close()
	return err
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.ConsoleEnabled(),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Webhook: logx.WebhookConfig{
			Enabled:    cfg.Logging.Webhook.Enabled,
			URL:        cfg.Discord.WebhookURL,
			MinLevel:   cfg.Logging.Webhook.MinLevel,
			RatePerSec: cfg.Logging.Webhook.RatePerSec,
		},
	}
}
