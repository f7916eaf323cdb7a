package utils

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTruncateTextKeepsRunesWhole(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	out := tp.TruncateText("héllo wörld", 2)
	assert.True(t, strings.HasPrefix(out, "h\n[..."))
	assert.True(t, utf8.ValidString(out))

	assert.Equal(t, "short", tp.TruncateText("short", 100))
	assert.Equal(t, "unbounded", tp.TruncateText("unbounded", 0))
}

func TestSanitizeUTF8(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())
	assert.Equal(t, "ab", tp.SanitizeUTF8("a\xffb"))
}

func TestStripHTML(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	html := `<html><head><style>p{color:red}</style><script>var x = "hidden";</script></head>
<body><p>Confirm&nbsp;your <b>password</b></p><a href="http://x.tk/login">here</a></body></html>`
	assert.Equal(t, "Confirm your password here", tp.StripHTML(html))
}

func TestBodyTextPrefersPlain(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	assert.Equal(t, "plain", tp.BodyText("plain", "<p>html</p>"))
	assert.Equal(t, "html", tp.BodyText("  ", "<p>html</p>"))
}
