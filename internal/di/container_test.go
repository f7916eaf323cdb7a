package di

import (
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikey/mail-trust/internal/adapters/filter"
	"github.com/mikey/mail-trust/internal/api"
	"github.com/mikey/mail-trust/internal/classifier"
	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/ports"
	"github.com/mikey/mail-trust/internal/scheduler"
)

func TestBuildContainer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\nserver:\n  filter_type: none\n"), 0o600))

	container, err := BuildContainer(path)
	require.NoError(t, err)

	err = container.Invoke(func(server *api.Server, sched *scheduler.Scheduler, ef ports.EmailFilter, store core.Store) {
		assert.NotNil(t, server)
		assert.NotNil(t, sched)
		assert.Nil(t, ef)

		patterns, err := store.ListPhishingPatterns(context.Background())
		require.NoError(t, err)
		assert.NotEmpty(t, patterns)
	})
	require.NoError(t, err)
}

func TestParseFlags(t *testing.T) {
	fs := flag.NewFlagSet("trust-check", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	flags, err := ParseFlags(fs, []string{"-provider", "openai", "-openai-api-key", "sk-test", "-user", "alice@example.org"})
	require.NoError(t, err)
	assert.Equal(t, "openai", flags.Provider)
	assert.Equal(t, "alice@example.org", flags.UserID)

	cfg := createConfigFromFlags(flags)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sk-test", cfg.GetOpenAI().APIKey)
	assert.Equal(t, "cli", cfg.GetServer().FilterType)
}

func TestBuildCLIContainerClassifies(t *testing.T) {
	fs := flag.NewFlagSet("trust-check", flag.ContinueOnError)
	flags, err := ParseFlags(fs, []string{"-user", "alice@example.org"})
	require.NoError(t, err)

	container, err := BuildCLIContainer(flags)
	require.NoError(t, err)

	err = container.Invoke(func(svc *classifier.Service, ef ports.EmailFilter) {
		assert.IsType(t, &filter.CliFilter{}, ef)

		result, err := svc.Classify(context.Background(), &core.Email{
			UserID:  flags.UserID,
			From:    "receipts@shop.example",
			Subject: "Your order receipt",
			Body:    "Thanks for your purchase. Order total $25.",
		})
		require.NoError(t, err)
		assert.Equal(t, core.SourceKeyword, result.Source)
	})
	require.NoError(t, err)
}
