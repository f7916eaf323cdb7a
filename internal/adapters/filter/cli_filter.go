package filter

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mikey/mail-trust/internal/classifier"
	"github.com/mikey/mail-trust/internal/core"
	"go.uber.org/zap"
)

// CliFilter classifies single messages and prints a report
type CliFilter struct {
	classifier Classifier
	logger     *zap.Logger
	out        io.Writer
	verbose    bool
}

// NewCliFilter creates a new CLI filter writing its report to out
func NewCliFilter(c Classifier, logger *zap.Logger, out io.Writer, verbose bool) *CliFilter {
	return &CliFilter{
		classifier: c,
		logger:     logger,
		out:        out,
		verbose:    verbose,
	}
}

// ProcessEmail classifies an email and prints the results
func (f *CliFilter) ProcessEmail(ctx context.Context, email *core.Email) (*classifier.Result, error) {
	f.logger.Debug("Processing email", zap.String("sender", email.From))

	fmt.Fprintf(f.out, "\n=== Email Summary ===\n")
	fmt.Fprintf(f.out, "User: %s\n", email.UserID)
	fmt.Fprintf(f.out, "From: %s\n", email.From)
	fmt.Fprintf(f.out, "To: %s\n", strings.Join(email.To, ", "))
	fmt.Fprintf(f.out, "Subject: %s\n", email.Subject)
	fmt.Fprintf(f.out, "Body length: %d bytes\n", len(email.Body)+len(email.HTMLBody))

	if f.verbose {
		preview := email.Body
		if len(preview) > 500 {
			preview = preview[:500] + "..."
		}
		fmt.Fprintf(f.out, "\nBody preview:\n%s\n", preview)
	}

	result, err := f.classifier.Classify(ctx, email)
	if err != nil {
		f.logger.Error("Failed to classify email", zap.Error(err))
		return nil, err
	}

	fmt.Fprintf(f.out, "\n=== Classification ===\n")
	fmt.Fprintf(f.out, "Category: %s\n", result.Category)
	fmt.Fprintf(f.out, "Source: %s\n", result.Source)
	fmt.Fprintf(f.out, "Confidence: %.2f\n", result.Confidence)
	if result.Oracle != nil {
		fmt.Fprintf(f.out, "Oracle: %s (%.2f) %s\n", result.Oracle.Category, result.Oracle.Confidence, result.Oracle.Summary)
	}
	if result.OracleError != "" {
		fmt.Fprintf(f.out, "Oracle error: %s\n", result.OracleError)
	}

	if p := result.Phishing; p != nil {
		fmt.Fprintf(f.out, "\n=== Phishing ===\n")
		fmt.Fprintf(f.out, "Score: %d\n", p.Score)
		fmt.Fprintf(f.out, "Risk: %s\n", p.Risk)
		fmt.Fprintf(f.out, "Requires review: %t\n", p.RequiresReview)
		for _, reason := range p.Reasons {
			fmt.Fprintf(f.out, "  - [%s] %s (severity %d)\n", reason.Type, reason.Description, reason.Severity)
		}
	}

	fmt.Fprintf(f.out, "\nProcessing time: %v\n", result.ProcessingTime)
	return result, nil
}

// Start is a no-op for the CLI filter
func (f *CliFilter) Start() error {
	return nil
}

// Stop is a no-op for the CLI filter
func (f *CliFilter) Stop() error {
	return nil
}
