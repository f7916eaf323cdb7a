package di

import (
	"context"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/mail-trust/internal/classlog"
	"github.com/mikey/mail-trust/internal/config"
	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/factory"
	"github.com/mikey/mail-trust/internal/feedback"
	"github.com/mikey/mail-trust/internal/oracle"
	"github.com/mikey/mail-trust/internal/phishing"
	"github.com/mikey/mail-trust/internal/reputation"
	"github.com/mikey/mail-trust/internal/rules"
	"github.com/mikey/mail-trust/internal/utils"
)

// provideServices registers the store, the oracle guard and the domain services shared by
// the daemon and the CLI. Callers provide *config.Config and *zap.Logger.
func provideServices(container *dig.Container) error {
	providers := []interface{}{
		utils.NewTextProcessor,

		factory.NewStoreFactory,
		func(f *factory.StoreFactory) (core.Store, error) {
			return f.CreateStore()
		},

		factory.NewOracleFactory,
		func(f *factory.OracleFactory) (*oracle.Guard, error) {
			o, err := f.CreateOracle(context.Background())
			if err != nil {
				return nil, err
			}
			return f.CreateGuard(o), nil
		},

		func(cfg *config.Config, store core.Store, logger *zap.Logger) *reputation.SenderStore {
			repCfg := cfg.GetReputation()
			return reputation.NewSenderStore(store, logger, reputation.Options{
				Threshold:  repCfg.Threshold,
				Policy:     reputation.ResolutionPolicy(repCfg.Policy),
				MaxRetries: repCfg.MaxRetries,
			})
		},
		func(cfg *config.Config, store core.Store, logger *zap.Logger) *reputation.DomainTracker {
			return reputation.NewDomainTracker(store, logger, cfg.GetReputation().MaxRetries)
		},

		func(cfg *config.Config, store core.Store, logger *zap.Logger) (*phishing.PatternCache, error) {
			phishCfg := cfg.GetPhishing()
			if phishCfg.SeedPatterns {
				if err := phishing.SeedDefaults(context.Background(), store); err != nil {
					return nil, err
				}
			}
			return phishing.NewPatternCache(store, logger, phishCfg.PatternTTL,
				phishCfg.WhitelistedDomains, phishCfg.BlacklistedDomains), nil
		},
		phishing.NewDetector,

		func(store core.Store, logger *zap.Logger) *classlog.Logger {
			return classlog.NewLogger(store, logger)
		},

		func(cfg *config.Config, store core.Store, logger *zap.Logger) *rules.Engine {
			rulesCfg := cfg.GetRules()
			return rules.NewEngine(store, store, store, logger, rules.Options{
				ScanWindow: rulesCfg.ScanWindow,
				Workers:    rulesCfg.Workers,
			})
		},

		func(senders *reputation.SenderStore, domains *reputation.DomainTracker, logs *classlog.Logger, store core.Store, logger *zap.Logger) *feedback.Service {
			return feedback.NewService(senders, domains, logs, store, logger)
		},
	}

	for _, p := range providers {
		if err := container.Provide(p); err != nil {
			return err
		}
	}
	return nil
}
