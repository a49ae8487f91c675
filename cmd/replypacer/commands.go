package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/nhle/replypacer/internal/api"
	"github.com/nhle/replypacer/internal/app"
	"github.com/nhle/replypacer/internal/credential"
	"github.com/nhle/replypacer/internal/model"
	"github.com/nhle/replypacer/internal/store"
	appsync "github.com/nhle/replypacer/internal/sync"
	"github.com/nhle/replypacer/internal/ui/queue"
	"github.com/nhle/replypacer/internal/ui/setup"
)

// services is everything a sweeping command needs.
type services struct {
	cfg    *model.AppConfig
	store  *store.SQLiteStore
	poller *appsync.Poller
	logger zerolog.Logger
}

func (r *services) Close() {
	if err := r.store.Close(); err != nil {
		r.logger.Error().Err(err).Msg("closing store")
	}
}

func start(cfgPath string, logger func(*model.AppConfig) (zerolog.Logger, error)) (*services, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	log, err := logger(cfg)
	if err != nil {
		return nil, err
	}

	transport, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}
	s, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	eng, err := newEngine(cfg, s, transport, log)
	if err != nil {
		s.Close()
		return nil, err
	}

	return &services{
		cfg:    cfg,
		store:  s,
		poller: appsync.New(eng, cfg.Schedule.IngestInterval(), cfg.Schedule.DispatchInterval(), log),
		logger: log,
	}, nil
}

func stderrLogger(cfg *model.AppConfig) (zerolog.Logger, error) {
	return newLogger(cfg.Log, os.Stderr), nil
}

// serveMetrics runs the metrics and health endpoints until ctx is done.
// It does nothing when no address is configured.
func serveMetrics(ctx context.Context, rt *services) {
	if rt.cfg.Metrics.Addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              rt.cfg.Metrics.Addr,
		Handler:           api.NewRouter(rt.logger, rt.poller),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		rt.logger.Info().Str("addr", srv.Addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			rt.logger.Error().Err(err).Msg("shutting down metrics server")
		}
	}()
}

func runDaemon(ctx context.Context, cfgPath string) error {
	rt, err := start(cfgPath, stderrLogger)
	if err != nil {
		return err
	}
	defer rt.Close()

	serveMetrics(ctx, rt)

	go func() {
		for res := range rt.poller.Results() {
			rt.logger.Debug().Str("sweep", string(res.Sweep)).Msg(res.String())
		}
	}()

	rt.logger.Info().
		Str("address", rt.cfg.Mail.Address).
		Dur("ingest_every", rt.cfg.Schedule.IngestInterval()).
		Dur("dispatch_every", rt.cfg.Schedule.DispatchInterval()).
		Msg("replypacer started")
	rt.poller.Run(ctx)
	rt.logger.Info().Msg("replypacer stopped")
	return nil
}

func runOnce(ctx context.Context, cfgPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr)

	transport, err := newTransport(cfg)
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	eng, err := newEngine(cfg, s, transport, logger)
	if err != nil {
		return err
	}

	ingested, ingestErr := eng.IngestUnread(ctx)
	fmt.Println(appsync.ResultMsg{Sweep: appsync.SweepIngest, Ingest: &ingested, Error: ingestErr})

	dispatched, dispatchErr := eng.RunDue(ctx, time.Now())
	fmt.Println(appsync.ResultMsg{Sweep: appsync.SweepDispatch, Dispatch: &dispatched, Error: dispatchErr})

	return errors.Join(ingestErr, dispatchErr)
}

func runWatch(ctx context.Context, cfgPath string) error {
	var f *os.File
	rt, err := start(cfgPath, func(cfg *model.AppConfig) (zerolog.Logger, error) {
		var err error
		if f, err = logFile(cfgPath); err != nil {
			return zerolog.Logger{}, fmt.Errorf("opening log file: %w", err)
		}
		return newLogger(model.LogConfig{Level: cfg.Log.Level, Format: "json"}, f), nil
	})
	if f != nil {
		defer f.Close()
	}
	if err != nil {
		return err
	}
	defer rt.Close()

	serveMetrics(ctx, rt)
	rt.poller.Start(ctx)
	defer rt.poller.Stop()

	p := tea.NewProgram(
		app.New(rt.store, rt.poller, rt.cfg.Mail.Address),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running dashboard: %w", err)
	}
	return nil
}

func runCheck(ctx context.Context, cfgPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	transport, err := newTransport(cfg)
	if err != nil {
		return err
	}

	checkCtx, cancel := context.WithTimeout(ctx, cfg.Schedule.TransportTimeout())
	defer cancel()
	if err := transport.ValidateConnection(checkCtx); err != nil {
		return err
	}
	fmt.Printf("connected to %s as %s\n", cfg.Mail.IMAP.Host, cfg.Mail.Username)
	return nil
}

func runSetup(_ context.Context, cfgPath string) error {
	current, err := model.LoadConfig(cfgPath)
	if err != nil {
		return err
	}

	res, err := setup.Run(current)
	if err != nil {
		return err
	}

	if res.MailPassword != "" {
		if err := credential.Set(credential.MailPassword, res.MailPassword); err != nil {
			return err
		}
	}
	if res.ClaudeAPIKey != "" {
		if err := credential.Set(credential.ClaudeAPIKey, res.ClaudeAPIKey); err != nil {
			return err
		}
	}
	if err := model.SaveConfig(cfgPath, res.Config); err != nil {
		return err
	}
	fmt.Printf("saved %s\n", cfgPath)
	return nil
}

func runQueue(ctx context.Context, cfgPath string, state *model.Disposition, limit int) error {
	cfg, err := model.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := s.ListScheduled(ctx, store.ScheduledFilter{
		State:    state,
		SortDesc: state == nil || *state != model.DispositionPending,
		Limit:    limit,
	})
	if err != nil {
		return err
	}
	counts, err := s.CountScheduled(ctx)
	if err != nil {
		return err
	}

	fmt.Println(queue.Render(entries, counts, time.Now()))
	return nil
}

func runNotifications(ctx context.Context, cfgPath string, markRead bool) error {
	cfg, err := model.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	s, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	unread, err := s.GetUnreadNotifications(ctx)
	if err != nil {
		return err
	}
	if len(unread) == 0 {
		fmt.Println("nothing to review")
		return nil
	}

	for _, n := range unread {
		fmt.Printf("%s  %s\n", n.CreatedAt.Local().Format("2006-01-02 15:04"), n.Message)
		if markRead {
			if err := s.MarkNotificationRead(ctx, n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
