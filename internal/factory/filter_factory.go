package factory

import (
	"fmt"
	"os"

	"github.com/mikey/mail-trust/internal/adapters/filter"
	"github.com/mikey/mail-trust/internal/classifier"
	"github.com/mikey/mail-trust/internal/config"
	"github.com/mikey/mail-trust/internal/ports"
	"go.uber.org/zap"
)

// FilterFactory creates email filters based on configuration
type FilterFactory struct {
	cfg        *config.Config
	logger     *zap.Logger
	classifier *classifier.Service
}

// NewFilterFactory creates a new filter factory
func NewFilterFactory(cfg *config.Config, logger *zap.Logger, classifier *classifier.Service) *FilterFactory {
	return &FilterFactory{
		cfg:        cfg,
		logger:     logger,
		classifier: classifier,
	}
}

// CreateEmailFilter creates an email filter based on the configuration. Filter type
// "none" returns a nil filter for API-only deployments.
func (f *FilterFactory) CreateEmailFilter() (ports.EmailFilter, error) {
	serverCfg := f.cfg.GetServer()

	switch serverCfg.FilterType {
	case "postfix":
		return filter.NewPostfixFilter(f.classifier, f.logger, filter.PostfixOptions{
			ListenAddr:      serverCfg.ListenAddress,
			Domain:          serverCfg.Domain,
			UserID:          serverCfg.UserID,
			RejectCritical:  serverCfg.RejectCritical,
			TagSubject:      serverCfg.ModifySubject,
			SubjectPrefix:   serverCfg.SubjectPrefix,
			PostfixEnabled:  serverCfg.PostfixEnabled,
			PostfixAddr:     serverCfg.PostfixAddress,
			PostfixPort:     serverCfg.PostfixPort,
			ClassifyTimeout: serverCfg.ClassifyTimeout,
			MaxMessageBytes: serverCfg.MaxMessageBytes,
		}), nil
	case "none":
		return nil, nil
	case "cli":
		return filter.NewCliFilter(f.classifier, f.logger, os.Stdout, f.cfg.GetBool("cli.verbose")), nil
	default:
		return nil, fmt.Errorf("unsupported filter type: %s", serverCfg.FilterType)
	}
}
