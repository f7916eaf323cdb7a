package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mikey/mail-trust/internal/adapters/filter"
	"github.com/mikey/mail-trust/internal/core"
	"github.com/mikey/mail-trust/internal/di"
	"github.com/mikey/mail-trust/internal/ports"
	"go.uber.org/zap"
)

func main() {
	flags, err := di.ParseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	if err := container.Invoke(func(logger *zap.Logger, ef ports.EmailFilter, store core.Store) error {
		defer logger.Sync()
		defer store.Close()
		return classify(logger, ef, flags)
	}); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func classify(logger *zap.Logger, ef ports.EmailFilter, flags *di.CLIFlags) error {
	var r io.Reader = os.Stdin
	if flags.InputFile != "" {
		file, err := os.Open(flags.InputFile)
		if err != nil {
			return fmt.Errorf("failed to open input file: %w", err)
		}
		defer file.Close()
		r = file
		logger.Info("Reading email from file", zap.String("file", flags.InputFile))
	} else {
		logger.Info("Reading email from stdin")
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read email: %w", err)
	}

	email, err := filter.ParseMessage(raw)
	if err != nil {
		return err
	}
	email.UserID = flags.UserID

	_, err = ef.ProcessEmail(context.Background(), email)
	return err
}
