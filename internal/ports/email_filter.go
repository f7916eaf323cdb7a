package ports

import (
	"context"

	"github.com/mikey/mail-trust/internal/classifier"
	"github.com/mikey/mail-trust/internal/core"
)

// EmailFilter defines the interface for mail ingest front ends
type EmailFilter interface {
	// ProcessEmail classifies a parsed message
	ProcessEmail(ctx context.Context, email *core.Email) (*classifier.Result, error)

	// Start starts the email filter service
	Start() error

	// Stop stops the email filter service
	Stop() error
}
