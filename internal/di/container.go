package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mail-trust/internal/api"
	"github.com/mikey/mail-trust/internal/classifier"
	"github.com/mikey/mail-trust/internal/classlog"
	"github.com/mikey/mail-trust/internal/config"
	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/factory"
	"github.com/mikey/mail-trust/internal/feedback"
	"github.com/mikey/mail-trust/internal/logging"
	"github.com/mikey/mail-trust/internal/oracle"
	"github.com/mikey/mail-trust/internal/phishing"
	"github.com/mikey/mail-trust/internal/ports"
	"github.com/mikey/mail-trust/internal/reputation"
	"github.com/mikey/mail-trust/internal/rules"
	"github.com/mikey/mail-trust/internal/scheduler"
)

// BuildContainer creates and configures the daemon's dependency injection container.
// An empty configPath searches the default locations.
func BuildContainer(configPath string) (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(func() (*config.Config, error) {
		return config.Load(configPath)
	}); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	if err := provideServices(container); err != nil {
		return nil, err
	}

	// Register background queue
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) *scheduler.Queue {
		queueCfg := cfg.GetQueue()
		return scheduler.NewQueue(logger, scheduler.QueueOptions{
			Workers:        queueCfg.Workers,
			Capacity:       queueCfg.Capacity,
			MaxAttempts:    queueCfg.MaxAttempts,
			TaskTimeout:    queueCfg.TaskTimeout,
			RetryBaseDelay: queueCfg.RetryBaseDelay,
			MaxRetryDelay:  queueCfg.MaxRetryDelay,
		})
	}); err != nil {
		return nil, err
	}

	// Register classifier with arrival rules on the queue
	if err := container.Provide(func(
		senders *reputation.SenderStore,
		domains *reputation.DomainTracker,
		detector *phishing.Detector,
		guard *oracle.Guard,
		logs *classlog.Logger,
		store core.Store,
		engine *rules.Engine,
		queue *scheduler.Queue,
		logger *zap.Logger,
	) *classifier.Service {
		return classifier.NewService(senders, domains, detector, guard, logs, store, engine, queue, logger)
	}); err != nil {
		return nil, err
	}

	// Register periodic jobs
	if err := container.Provide(func(
		cfg *config.Config,
		queue *scheduler.Queue,
		store core.Store,
		engine *rules.Engine,
		logs *classlog.Logger,
		logger *zap.Logger,
	) *scheduler.Scheduler {
		schedCfg := cfg.GetScheduler()
		return scheduler.New(queue, store, engine, logs, logger, scheduler.Options{
			RulesInterval:     schedCfg.RulesInterval,
			AggregateInterval: schedCfg.AggregateInterval,
		})
	}); err != nil {
		return nil, err
	}

	// Register HTTP API
	if err := container.Provide(func(
		c *classifier.Service,
		fb *feedback.Service,
		senders *reputation.SenderStore,
		domains *reputation.DomainTracker,
		engine *rules.Engine,
		logs *classlog.Logger,
		logger *zap.Logger,
	) *api.Server {
		return api.NewServer(api.Deps{
			Classifier: c,
			Feedback:   fb,
			Senders:    senders,
			Domains:    domains,
			Rules:      engine,
			Stats:      logs,
			Logger:     logger,
		})
	}); err != nil {
		return nil, err
	}

	// Register email filter
	if err := container.Provide(factory.NewFilterFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(func(f *factory.FilterFactory) (ports.EmailFilter, error) {
		return f.CreateEmailFilter()
	}); err != nil {
		return nil, err
	}

	return container, nil
}
