package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/pratik-mahalle/wsaudit/internal/config"
	"github.com/pratik-mahalle/wsaudit/internal/detector"
	"github.com/pratik-mahalle/wsaudit/internal/domain/alert"
	"github.com/pratik-mahalle/wsaudit/internal/domain/notification"
	"github.com/pratik-mahalle/wsaudit/internal/integrations"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/errors"
	"github.com/pratik-mahalle/wsaudit/internal/pkg/logger"
	"github.com/pratik-mahalle/wsaudit/internal/repository/sqlstore"
	"github.com/pratik-mahalle/wsaudit/internal/services"
)

// appOptions selects which parts of the pipeline a command needs.
type appOptions struct {
	store  bool
	notify bool
}

// app is the wired pipeline shared by the commands.
type app struct {
	cfg        *config.Config
	log        *logger.Logger
	db         *sqlstore.DB
	rules      *alert.RuleSet
	diff       *detector.DiffEngine
	dispatcher *services.NotificationDispatcher
	service    *services.AuditService
}

func newApp(opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg)

	diff, err := newDiffEngine(cfg.Audit)
	if err != nil {
		return nil, err
	}

	rules, err := config.LoadRuleSet(cfg.Audit.RulesPath)
	if err != nil {
		return nil, err
	}

	manager := services.NewAlertManager(log)
	if t := 2 * cfg.Notification.SendTimeout; t > services.DefaultNotifyTimeout {
		manager.SetNotifyTimeout(t)
	}
	a := &app{cfg: cfg, log: log, rules: rules, diff: diff}

	if opts.notify {
		dispatcher, err := newDispatcher(cfg, log)
		if err != nil {
			return nil, err
		}
		if len(dispatcher.Channels()) > 0 {
			if err := manager.Register(dispatcher); err != nil {
				return nil, err
			}
		}
		a.dispatcher = dispatcher
	}

	if opts.store {
		db, err := openStore(cfg, log)
		if err != nil {
			return nil, err
		}
		a.db = db
	}

	if a.db != nil {
		a.service = services.NewAuditService(diff, detector.NewAlertDetector(), rules, manager,
			sqlstore.NewSnapshotRepository(a.db), sqlstore.NewReportRepository(a.db), log)
		a.service.SetRetention(services.Retention{
			MaxAge: time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour,
			Keep:   cfg.Audit.RetentionKeep,
		})
	} else {
		a.service = services.NewAuditService(diff, detector.NewAlertDetector(), rules, manager, nil, nil, log)
	}

	return a, nil
}

// Close releases the database handle if one was opened.
func (a *app) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WarnWithErr(err, "Failed to close database")
		}
	}
}

// openStore opens the history database and applies pending migrations.
func openStore(cfg *config.Config, log *logger.Logger) (*sqlstore.DB, error) {
	db, err := sqlstore.New(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := sqlstore.Migrate(db, log); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// newLogger writes logs to stderr so command output on stdout stays parseable.
func newLogger(cfg *config.Config) *logger.Logger {
	output := cfg.Logging.OutputPath
	if output == "" || output == "stdout" {
		output = "stderr"
	}
	return logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: output,
	})
}

func newDiffEngine(cfg config.AuditConfig) (*detector.DiffEngine, error) {
	if err := detector.CheckIgnoredFields(cfg.IgnoredUserFields, cfg.IgnoredChannelFields); err != nil {
		return nil, err
	}
	return detector.NewDiffEngine(
		detector.WithIgnoredUserFields(cfg.IgnoredUserFields...),
		detector.WithIgnoredChannelFields(cfg.IgnoredChannelFields...),
	), nil
}

// newDispatcher builds one route per configured channel. An invalid channel
// configuration fails startup.
func newDispatcher(cfg *config.Config, log *logger.Logger) (*services.NotificationDispatcher, error) {
	client := &http.Client{Timeout: cfg.Notification.SendTimeout}

	var routes []services.Route
	for _, spec := range cfg.ChannelSpecs() {
		ch, err := integrations.NewChannel(spec, client)
		if err != nil {
			return nil, err
		}
		floor := notification.DefaultMinSeverity(spec.Kind)
		if raw := spec.MinSeverity(); raw != "" {
			floor, err = alert.ParseSeverity(raw)
			if err != nil {
				return nil, errors.ConfigurationError(fmt.Sprintf("invalid min severity for %s channel", spec.Kind), err.Error())
			}
		}
		routes = append(routes, services.Route{Channel: ch, MinSeverity: floor})
	}

	return services.NewNotificationDispatcher(services.DispatcherConfig{
		Timeout:   cfg.Notification.SendTimeout,
		SendEmpty: cfg.Notification.SendEmpty,
	}, routes, log), nil
}
