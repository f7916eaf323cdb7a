package filter

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/textproto"
	"github.com/emersion/go-smtp"
	"github.com/mikey/mail-trust/internal/classifier"
	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/phishing"
	"go.uber.org/zap"
)

// Headers added to every filtered message
const (
	HeaderCategory      = "X-Mail-Category"
	HeaderSource        = "X-Mail-Source"
	HeaderConfidence    = "X-Mail-Confidence"
	HeaderPhishingScore = "X-Phishing-Score"
	HeaderPhishingRisk  = "X-Phishing-Risk"
	HeaderError         = "X-Mail-Trust-Error"
)

// DefaultSubjectPrefix is prepended to spam subjects when tagging is enabled
const DefaultSubjectPrefix = "[SPAM] "

// Classifier assigns a category and phishing assessment to a message
type Classifier interface {
	Classify(ctx context.Context, email *core.Email) (*classifier.Result, error)
}

// PostfixOptions configures the content filter
type PostfixOptions struct {
	ListenAddr string
	Domain     string

	// UserID pins every message to one mailbox owner. When empty the first
	// envelope recipient owns the message.
	UserID string

	RejectCritical bool
	TagSubject     bool
	SubjectPrefix  string

	PostfixEnabled bool
	PostfixAddr    string
	PostfixPort    int

	ClassifyTimeout time.Duration
	MaxMessageBytes int64
	MaxRecipients   int
}

// PostfixFilter implements a Postfix after-queue content filter. Messages arrive over
// SMTP, are classified and annotated, and are re-injected into Postfix.
type PostfixFilter struct {
	classifier Classifier
	logger     *zap.Logger
	opts       PostfixOptions
	server     *smtp.Server

	forward func(ctx context.Context, sender string, recipients []string, data []byte) error
}

// NewPostfixFilter creates a new Postfix content filter
func NewPostfixFilter(c Classifier, logger *zap.Logger, opts PostfixOptions) *PostfixFilter {
	if opts.TagSubject && opts.SubjectPrefix == "" {
		opts.SubjectPrefix = DefaultSubjectPrefix
	}
	if opts.Domain == "" {
		opts.Domain = "localhost"
	}
	if opts.ClassifyTimeout <= 0 {
		opts.ClassifyTimeout = 30 * time.Second
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 30 * 1024 * 1024
	}
	if opts.MaxRecipients <= 0 {
		opts.MaxRecipients = 50
	}

	f := &PostfixFilter{
		classifier: c,
		logger:     logger,
		opts:       opts,
	}
	f.forward = f.sendToPostfix
	return f
}

// Start starts the SMTP listener
func (f *PostfixFilter) Start() error {
	f.server = smtp.NewServer(&smtpBackend{filter: f})
	f.server.Addr = f.opts.ListenAddr
	f.server.Domain = f.opts.Domain
	f.server.ReadTimeout = 30 * time.Second
	f.server.WriteTimeout = 30 * time.Second
	f.server.MaxMessageBytes = f.opts.MaxMessageBytes
	f.server.MaxRecipients = f.opts.MaxRecipients

	f.logger.Info("Postfix filter starting", zap.String("address", f.opts.ListenAddr))

	go func() {
		if err := f.server.ListenAndServe(); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			f.logger.Error("SMTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop stops the SMTP listener
func (f *PostfixFilter) Stop() error {
	if f.server != nil {
		return f.server.Close()
	}
	return nil
}

// ProcessEmail classifies an already parsed message
func (f *PostfixFilter) ProcessEmail(ctx context.Context, email *core.Email) (*classifier.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.ClassifyTimeout)
	defer cancel()
	return f.classifier.Classify(ctx, email)
}

// Process classifies a raw message and returns it with classification headers added.
// Critical phishing is rejected with a permanent SMTP error when configured. Messages
// that cannot be classified pass through with an error header.
func (f *PostfixFilter) Process(ctx context.Context, sender string, recipients []string, raw []byte) ([]byte, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	header, err := textproto.ReadHeader(br)
	if err != nil {
		messagesFiltered.WithLabelValues("malformed").Inc()
		return nil, &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Malformed message header",
		}
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}

	result, err := f.classify(ctx, sender, recipients, raw)
	if err != nil {
		f.logger.Warn("Passing message through unclassified",
			zap.String("sender", sender),
			zap.Error(err))
		messagesFiltered.WithLabelValues("unclassified").Inc()
		header.Set(HeaderError, headerSafe(err.Error()))
		return render(header, body)
	}

	if f.opts.RejectCritical && result.Phishing != nil &&
		result.Phishing.Risk == core.RiskCritical && phishing.IsThreat(result.Phishing) {
		f.logger.Info("Rejecting phishing message",
			zap.String("email_id", result.EmailID),
			zap.String("sender", sender),
			zap.Int("phishing_score", result.Phishing.Score))
		messagesFiltered.WithLabelValues("rejected").Inc()
		return nil, &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 7, 1},
			Message:      "Message rejected as phishing",
		}
	}

	header.Set(HeaderCategory, string(result.Category))
	header.Set(HeaderSource, string(result.Source))
	header.Set(HeaderConfidence, strconv.FormatFloat(result.Confidence, 'f', 2, 64))
	if result.Phishing != nil {
		header.Set(HeaderPhishingScore, strconv.Itoa(result.Phishing.Score))
		header.Set(HeaderPhishingRisk, string(result.Phishing.Risk))
	}

	if f.opts.TagSubject && result.Category == core.CategorySpam {
		subject := header.Get("Subject")
		if !strings.HasPrefix(subject, f.opts.SubjectPrefix) {
			header.Set("Subject", f.opts.SubjectPrefix+subject)
		}
	}

	messagesFiltered.WithLabelValues("delivered").Inc()
	return render(header, body)
}

func (f *PostfixFilter) classify(ctx context.Context, sender string, recipients []string, raw []byte) (*classifier.Result, error) {
	email, err := ParseMessage(raw)
	if err != nil {
		return nil, err
	}

	email.UserID = f.ownerFor(recipients)
	if email.UserID == "" {
		return nil, errors.New("no recipient to own the message")
	}
	if email.From == "" {
		email.From = strings.ToLower(sender)
	}
	if len(email.To) == 0 {
		email.To = recipients
	}

	return f.ProcessEmail(ctx, email)
}

func (f *PostfixFilter) ownerFor(recipients []string) string {
	if f.opts.UserID != "" {
		return f.opts.UserID
	}
	for _, rcpt := range recipients {
		if rcpt = strings.ToLower(strings.TrimSpace(rcpt)); rcpt != "" {
			return rcpt
		}
	}
	return ""
}

func render(header textproto.Header, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	buf.Write(body)
	return buf.Bytes(), nil
}

// headerSafe folds a value onto a single header line
func headerSafe(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

// sendToPostfix re-injects the processed message into Postfix
func (f *PostfixFilter) sendToPostfix(ctx context.Context, sender string, recipients []string, data []byte) error {
	addr := net.JoinHostPort(f.opts.PostfixAddr, strconv.Itoa(f.opts.PostfixPort))

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to Postfix: %w", err)
	}
	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set connection deadline: %w", err)
	}

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := c.Hello(hostname); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}
	if err := c.Mail(sender, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	accepted := 0
	for _, rcpt := range recipients {
		if err := c.Rcpt(rcpt, nil); err != nil {
			f.logger.Warn("RCPT TO failed for recipient",
				zap.String("recipient", rcpt),
				zap.Error(err))
			continue
		}
		accepted++
	}
	if accepted == 0 {
		return errors.New("all recipients were rejected")
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return fmt.Errorf("failed to send message data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := c.Quit(); err != nil {
		f.logger.Warn("QUIT command failed", zap.Error(err))
	}
	return nil
}

// smtpBackend implements the go-smtp Backend interface
type smtpBackend struct {
	filter *PostfixFilter
}

// NewSession creates a new SMTP session
func (b *smtpBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &smtpSession{filter: b.filter}, nil
}

// smtpSession implements the go-smtp Session interface
type smtpSession struct {
	filter     *PostfixFilter
	sender     string
	recipients []string
}

// Reset resets the session state
func (s *smtpSession) Reset() {
	s.sender = ""
	s.recipients = nil
}

// Logout is a no-op
func (s *smtpSession) Logout() error {
	return nil
}

// Mail sets the sender address
func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

// Rcpt adds a recipient
func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

// Data classifies the message and hands it back to Postfix
func (s *smtpSession) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		s.filter.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}

	ctx := context.Background()
	out, err := s.filter.Process(ctx, s.sender, s.recipients, raw)
	if err != nil {
		return err
	}

	if !s.filter.opts.PostfixEnabled {
		s.filter.logger.Debug("Re-injection disabled, dropping processed message",
			zap.String("sender", s.sender))
		return nil
	}

	if err := s.filter.forward(ctx, s.sender, s.recipients, out); err != nil {
		s.filter.logger.Error("Failed to send message back to Postfix",
			zap.String("sender", s.sender),
			zap.Error(err))
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Temporary failure re-injecting message",
		}
	}
	return nil
}
