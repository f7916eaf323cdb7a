package filter

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/emersion/go-smtp"
	"github.com/mikey/mail-trust/internal/classifier"
	"github.com/mikey/mail-trust/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const multipartMessage = "From: \"Billing Team\" <Billing@Example.com>\r\n" +
	"To: alice@example.org, Bob <bob@example.org>\r\n" +
	"Subject: =?utf-8?q?Your_invoice_=E2=82=AC12?=\r\n" +
	"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
	"Message-ID: <abc@example.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"outer\"\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=\"inner\"\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Your invoice is attached.\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Your invoice is attached.</p>\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"invoice.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQK\r\n" +
	"--outer--\r\n"

const plainMessage = "From: news@shop.example\r\n" +
	"To: alice@example.org\r\n" +
	"Subject: Weekly deals\r\n" +
	"List-Unsubscribe: <mailto:unsub@shop.example>\r\n" +
	"\r\n" +
	"50% off everything this week.\r\n"

type fakeClassifier struct {
	result *classifier.Result
	err    error
	seen   []*core.Email
}

func (f *fakeClassifier) Classify(ctx context.Context, email *core.Email) (*classifier.Result, error) {
	f.seen = append(f.seen, email)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestParseMessageMultipart(t *testing.T) {
	email, err := ParseMessage([]byte(multipartMessage))
	require.NoError(t, err)

	assert.Equal(t, "billing@example.com", email.From)
	assert.Equal(t, "Billing Team", email.FromName)
	assert.Equal(t, []string{"alice@example.org", "bob@example.org"}, email.To)
	assert.Equal(t, "Your invoice €12", email.Subject)
	assert.Equal(t, 2006, email.ReceivedAt.Year())
	assert.Contains(t, email.Body, "Your invoice is attached.")
	assert.Contains(t, email.HTMLBody, "<p>Your invoice is attached.</p>")
	assert.NotContains(t, email.Body, "JVBERi0")
	assert.Equal(t, "<abc@example.com>", email.Header("message-id"))
}

func TestParseMessagePlain(t *testing.T) {
	email, err := ParseMessage([]byte(plainMessage))
	require.NoError(t, err)

	assert.Equal(t, "news@shop.example", email.From)
	assert.Equal(t, "Weekly deals", email.Subject)
	assert.Equal(t, "50% off everything this week.\r\n", email.Body)
	assert.Empty(t, email.HTMLBody)
	assert.NotEmpty(t, email.Header("List-Unsubscribe"))
	assert.True(t, email.ReceivedAt.IsZero())
}

func newTestFilter(c Classifier, opts PostfixOptions) *PostfixFilter {
	return NewPostfixFilter(c, zap.NewNop(), opts)
}

func TestProcessAddsHeaders(t *testing.T) {
	fc := &fakeClassifier{result: &classifier.Result{
		EmailID:    "e1",
		Category:   core.CategoryPromotion,
		Source:     core.SourceKeyword,
		Confidence: 0.6,
		Phishing:   &core.PhishingAssessment{Score: 10, Risk: core.RiskSafe},
	}}
	f := newTestFilter(fc, PostfixOptions{TagSubject: true})

	out, err := f.Process(context.Background(), "bounce@shop.example", []string{"Alice@Example.org"}, []byte(plainMessage))
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "X-Mail-Category: promotion\r\n")
	assert.Contains(t, text, "X-Mail-Source: keyword\r\n")
	assert.Contains(t, text, "X-Mail-Confidence: 0.60\r\n")
	assert.Contains(t, text, "X-Phishing-Score: 10\r\n")
	assert.Contains(t, text, "X-Phishing-Risk: safe\r\n")
	assert.Contains(t, text, "Subject: Weekly deals\r\n")
	assert.True(t, strings.HasSuffix(text, "\r\n\r\n50% off everything this week.\r\n"))

	require.Len(t, fc.seen, 1)
	assert.Equal(t, "alice@example.org", fc.seen[0].UserID)
	assert.Equal(t, "news@shop.example", fc.seen[0].From)
}

func TestProcessTagsSpamSubject(t *testing.T) {
	fc := &fakeClassifier{result: &classifier.Result{
		Category: core.CategorySpam,
		Source:   core.SourceOracle,
		Phishing: &core.PhishingAssessment{Risk: core.RiskLow, Score: 25},
	}}
	f := newTestFilter(fc, PostfixOptions{TagSubject: true, UserID: "mailbox-1"})

	out, err := f.Process(context.Background(), "x@y.example", []string{"alice@example.org"}, []byte(plainMessage))
	require.NoError(t, err)
	assert.Contains(t, string(out), "Subject: [SPAM] Weekly deals\r\n")
	assert.Equal(t, "mailbox-1", fc.seen[0].UserID)

	again, err := f.Process(context.Background(), "x@y.example", []string{"alice@example.org"}, out)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(again), "[SPAM]"))
}

func TestProcessRejectsCriticalPhishing(t *testing.T) {
	critical := &core.PhishingAssessment{Score: 95, Risk: core.RiskCritical, IsPhishing: true}
	fc := &fakeClassifier{result: &classifier.Result{Category: core.CategorySpam, Phishing: critical}}

	f := newTestFilter(fc, PostfixOptions{RejectCritical: true})
	_, err := f.Process(context.Background(), "x@y.example", []string{"alice@example.org"}, []byte(plainMessage))

	var smtpErr *smtp.SMTPError
	require.True(t, errors.As(err, &smtpErr))
	assert.Equal(t, 550, smtpErr.Code)

	f = newTestFilter(fc, PostfixOptions{})
	out, err := f.Process(context.Background(), "x@y.example", []string{"alice@example.org"}, []byte(plainMessage))
	require.NoError(t, err)
	assert.Contains(t, string(out), "X-Phishing-Risk: critical\r\n")
}

func TestProcessPassesThroughOnFailure(t *testing.T) {
	fc := &fakeClassifier{err: errors.New("store\nunavailable")}
	f := newTestFilter(fc, PostfixOptions{})

	out, err := f.Process(context.Background(), "x@y.example", []string{"alice@example.org"}, []byte(plainMessage))
	require.NoError(t, err)
	assert.Contains(t, string(out), "X-Mail-Trust-Error: store unavailable\r\n")
	assert.NotContains(t, string(out), HeaderCategory)

	out, err = f.Process(context.Background(), "x@y.example", nil, []byte(plainMessage))
	require.NoError(t, err)
	assert.Contains(t, string(out), HeaderError)
}

func TestSessionForwardsProcessedMessage(t *testing.T) {
	fc := &fakeClassifier{result: &classifier.Result{Category: core.CategoryWork, Source: core.SourceOracle}}
	f := newTestFilter(fc, PostfixOptions{PostfixEnabled: true})

	var forwarded []byte
	var rcpts []string
	f.forward = func(ctx context.Context, sender string, recipients []string, data []byte) error {
		forwarded = data
		rcpts = recipients
		return nil
	}

	backend := &smtpBackend{filter: f}
	session, err := backend.NewSession(nil)
	require.NoError(t, err)
	require.NoError(t, session.Mail("news@shop.example", nil))
	require.NoError(t, session.Rcpt("alice@example.org", nil))
	require.NoError(t, session.Data(strings.NewReader(plainMessage)))

	assert.Equal(t, []string{"alice@example.org"}, rcpts)
	assert.Contains(t, string(forwarded), "X-Mail-Category: work\r\n")

	f.forward = func(ctx context.Context, sender string, recipients []string, data []byte) error {
		return errors.New("connection refused")
	}
	err = session.Data(strings.NewReader(plainMessage))
	var smtpErr *smtp.SMTPError
	require.True(t, errors.As(err, &smtpErr))
	assert.Equal(t, 451, smtpErr.Code)
}

func TestCliFilterReport(t *testing.T) {
	fc := &fakeClassifier{result: &classifier.Result{
		Category:   core.CategoryTransaction,
		Source:     core.SourceKeyword,
		Confidence: 0.6,
		Phishing: &core.PhishingAssessment{
			Score: 30,
			Risk:  core.RiskLow,
			Reasons: []core.Finding{
				{Type: core.FindingType("urgency"), Description: "urgent language", Severity: 10},
			},
		},
	}}

	var out bytes.Buffer
	f := NewCliFilter(fc, zap.NewNop(), &out, false)
	result, err := f.ProcessEmail(context.Background(), &core.Email{UserID: "u1", From: "a@b.example", Subject: "Receipt"})
	require.NoError(t, err)
	assert.Equal(t, core.CategoryTransaction, result.Category)

	report := out.String()
	assert.Contains(t, report, "Category: transaction")
	assert.Contains(t, report, "Risk: low")
	assert.Contains(t, report, "urgent language")
}
