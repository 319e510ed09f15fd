package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/reportmailer/internal/config"
	"github.com/reportmailer/internal/docx"
	"github.com/reportmailer/internal/mailer"
	"github.com/reportmailer/internal/metrics"
	"github.com/reportmailer/internal/portal"
	"github.com/reportmailer/internal/runlog"
	"github.com/reportmailer/internal/runner"
	"github.com/reportmailer/internal/store"
)

type App struct {
	config *config.Config
	logger *slog.Logger
	fs     afero.Fs
	db     *sql.DB
	portal *portal.Client
	mailer *mailer.Mailer
	runner *runner.Runner
}

// Options replace the defaults New picks; tests use them.
type Options struct {
	FS         afero.Fs
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (app *App) Close() {
	if app.db != nil {
		app.db.Close()
	}
}

func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = newLogger(cfg)
	}
	fs := opts.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}

	client := portal.New(portal.Options{
		OrgURL:          cfg.OrgURL,
		ReportAPIURL:    cfg.ReportAPIURL,
		Username:        cfg.Username,
		Password:        cfg.Password,
		ClientID:        appClientID(cfg),
		ClientSecret:    cfg.ClientSecret,
		Owner:           cfg.Owner,
		RequestTimeout:  cfg.RequestTimeout,
		GenerateTimeout: cfg.GenerateTimeout,
		HTTPClient:      opts.HTTPClient,
	})

	m := mailer.New(mailer.Config{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		Username:    cfg.SMTPUser,
		Password:    cfg.SMTPPass,
		FromAddress: cfg.SMTPFromEmail,
		FromName:    cfg.SMTPFromName,
		TLS:         mailer.TLSMode(cfg.SMTPTLS),
		Timeout:     cfg.RequestTimeout,
	}, fs)

	app := &App{config: cfg, logger: logger, fs: fs, portal: client, mailer: m}

	deps := runner.Deps{
		Store: client,
		Recipients: docx.Finder{
			FS:     fs,
			Table:  cfg.RecipientTable,
			Lookup: docx.Lookup{Field: cfg.RecipientField, Row: cfg.RecipientRow},
		},
		Mailer: m,
		FS:     fs,
		Log:    runlog.New(fs, cfg.LogFile, logger),
	}
	if cfg.LedgerPath != "" {
		db, err := store.Open(ctx, cfg.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		app.db = db
		deps.Ledger = store.NewLedger(db, fs)
	}
	if cfg.MetricsTextfile != "" {
		deps.Metrics = metrics.NewTextfile(cfg.MetricsTextfile)
	}

	app.runner = runner.New(runner.Options{
		SurveyID:      cfg.SurveyID,
		TemplateIndex: cfg.TemplateIndex,
		Where:         cfg.Where,
		UTCOffset:     cfg.UTCOffset,
		Title:         cfg.ReportTitle,
		Window:        cfg.Window,
		OutputDir:     cfg.OutputDir,
		Extension:     cfg.ReportExtension,
		Subject:       cfg.EmailSubject,
		Body:          cfg.EmailBody,
		StopOnError:   cfg.StopOnError,
	}, deps)

	return app, nil
}

// Run performs one daily pass.
func (app *App) Run(ctx context.Context) (*runner.Summary, error) {
	app.logger.Info("starting run", "survey", app.config.SurveyID, "output", app.config.OutputDir, "window", app.config.Window)
	sum, err := app.runner.Run(ctx)
	if sum != nil {
		app.logger.Info("run finished",
			"run", sum.RunID,
			"phase", sum.Phase,
			"generated", sum.Generated,
			"sent", sum.Sent,
			"failures", len(sum.Failures),
		)
	}
	return sum, err
}

// Check verifies the portal login, the survey and template, and the SMTP
// login in parallel. Nothing is generated, downloaded or sent.
func (app *App) Check(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sess, err := app.portal.Authenticate(gctx)
		if err != nil {
			return err
		}
		app.logger.Info("portal login ok", "user", sess.Username, "owner", sess.Owner)

		survey, err := app.portal.Survey(gctx, sess, app.config.SurveyID)
		if err != nil {
			return err
		}
		tmpl, err := survey.Template(app.config.TemplateIndex)
		if err != nil {
			return err
		}
		app.logger.Info("survey ok", "title", survey.Title, "template", tmpl.Title, "templates", len(survey.Templates))
		return nil
	})

	g.Go(func() error {
		if err := app.mailer.Ping(gctx); err != nil {
			return err
		}
		app.logger.Info("smtp login ok", "host", app.config.SMTPHost, "port", app.config.SMTPPort)
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("check failed: %w", err)
	}
	return nil
}

func appClientID(cfg *config.Config) string {
	if cfg.UsesAppCredentials() {
		return cfg.ClientID
	}
	return ""
}

func newLogger(cfg *config.Config) *slog.Logger {
	logLevel := slog.LevelInfo

	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	slog.SetDefault(logger)
	return logger
}
