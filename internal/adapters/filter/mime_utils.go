package filter

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/mikey/mail-trust/internal/core"
)

// maxPartBytes caps how much of a single text part is read into memory
const maxPartBytes = 1 << 20

// ParseMessage converts a raw RFC 5322 message into an Email. The text/plain parts form
// Body and the text/html parts form HTMLBody; attachments are skipped. Unknown charsets
// are read undecoded.
func ParseMessage(raw []byte) (*core.Email, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	defer mr.Close()

	email := &core.Email{Headers: make(map[string][]string)}
	for fields := mr.Header.Fields(); fields.Next(); {
		key := fields.Key()
		email.Headers[key] = append(email.Headers[key], fields.Value())
	}

	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		email.From = strings.ToLower(from[0].Address)
		email.FromName = from[0].Name
	} else {
		email.From = strings.ToLower(strings.TrimSpace(mr.Header.Get("From")))
	}

	for _, key := range []string{"To", "Cc"} {
		list, err := mr.Header.AddressList(key)
		if err != nil {
			continue
		}
		for _, addr := range list {
			email.To = append(email.To, strings.ToLower(addr.Address))
		}
	}

	if subject, err := mr.Header.Subject(); err == nil {
		email.Subject = subject
	} else {
		email.Subject = mr.Header.Get("Subject")
	}

	if date, err := mr.Header.Date(); err == nil {
		email.ReceivedAt = date.UTC()
	}

	var plain, html strings.Builder
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			if plain.Len() == 0 && html.Len() == 0 {
				return nil, fmt.Errorf("failed to read message body: %w", err)
			}
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()

		var dst *strings.Builder
		switch contentType {
		case "text/plain", "":
			dst = &plain
		case "text/html":
			dst = &html
		default:
			continue
		}

		body, err := io.ReadAll(io.LimitReader(part.Body, maxPartBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s part: %w", contentType, err)
		}
		if dst.Len() > 0 {
			dst.WriteString("\n")
		}
		dst.Write(body)
	}

	email.Body = plain.String()
	email.HTMLBody = html.String()
	return email, nil
}
