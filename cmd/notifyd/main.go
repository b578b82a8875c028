// Command notifyd runs the notification engine and its HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/schoolkit/pkg/config"
	"github.com/dmitrymomot/schoolkit/pkg/email"
	"github.com/dmitrymomot/schoolkit/pkg/httpserver"
	"github.com/dmitrymomot/schoolkit/pkg/logger"
	"github.com/dmitrymomot/schoolkit/pkg/notifications"
	"github.com/dmitrymomot/schoolkit/pkg/notifications/httpapi"
	"github.com/dmitrymomot/schoolkit/pkg/notifications/transport"
	"github.com/dmitrymomot/schoolkit/pkg/requestid"
)

func main() {
	if err := run(); err != nil {
		slog.Error("notifyd stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func run() error {
	var (
		appCfg    appConfig
		logCfg    logger.Config
		engineCfg notifications.Config
		httpCfg   httpserver.Config
		mailCfg   email.Config
		sendCfg   transport.Config
	)
	if err := errors.Join(
		config.Load(&appCfg),
		config.Load(&logCfg),
		config.Load(&engineCfg),
		config.Load(&httpCfg),
		config.Load(&mailCfg),
		config.Load(&sendCfg),
	); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(append(logger.FromConfig(logCfg),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)...)
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := newBackends(ctx, appCfg, log)
	if err != nil {
		return err
	}
	defer b.close(log)

	opts := []notifications.ManagerOption{
		notifications.WithManagerLogger(log),
		notifications.WithConfig(engineCfg),
		notifications.WithPreferencesStore(b.prefs),
		notifications.WithTemplateStore(b.templates),
	}
	if b.scheduler != nil {
		opts = append(opts, notifications.WithScheduler(b.scheduler))
	}
	if b.events != nil {
		opts = append(opts, notifications.WithEventBroadcaster(b.events))
	}

	directory, err := loadDirectory(appCfg.DirectoryFile)
	if err != nil {
		return err
	}
	opts = append(opts, notifications.WithDirectory(directory))

	mailer, err := email.New(mailCfg)
	if err != nil {
		return fmt.Errorf("failed to create email sender: %w", err)
	}
	opts = append(opts, notifications.WithSenders(transport.New(sendCfg, mailer, log)))

	manager := notifications.NewManager(b.storage, opts...)
	if err := seedTemplates(ctx, manager, engineCfg.TemplatesFile, log); err != nil {
		return err
	}

	api := httpapi.New(manager,
		httpapi.WithLogger(log),
		httpapi.WithHealthChecks(b.checks...),
	)
	srv := httpserver.NewFromConfig(httpCfg,
		httpserver.WithLogger(log),
		httpserver.WithOnShutdown(api.Close),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(manager.Run(ctx))
	g.Go(func() error { return srv.Run(ctx, api.Routes()) })

	log.LogAttrs(ctx, slog.LevelInfo, "notifyd started",
		slog.String("store", appCfg.Store),
		slog.String("document_store", appCfg.documentStore()),
		slog.String("scheduler", appCfg.Scheduler),
		slog.String("events", appCfg.Events),
	)
	return g.Wait()
}

func loadDirectory(path string) (*notifications.MemoryDirectory, error) {
	if path == "" {
		return notifications.NewMemoryDirectory(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open directory file: %w", err)
	}
	defer f.Close()
	return notifications.LoadDirectoryYAML(f)
}

func seedTemplates(ctx context.Context, m *notifications.Manager, path string, log *slog.Logger) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open templates file: %w", err)
	}
	defer f.Close()

	tpls, err := notifications.LoadTemplatesYAML(f)
	if err != nil {
		return err
	}
	for _, tpl := range tpls {
		if _, err := m.SaveTemplate(ctx, tpl); err != nil {
			return fmt.Errorf("failed to seed template %s: %w", tpl.ID, err)
		}
	}
	log.LogAttrs(ctx, slog.LevelInfo, "Templates seeded", slog.Int("count", len(tpls)))
	return nil
}
