// Package commands is the terminal chat client.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/controlled-anonymity/client-go/internal/app"
	"github.com/controlled-anonymity/client-go/internal/config"
	"github.com/controlled-anonymity/client-go/internal/jobs"
	"github.com/controlled-anonymity/client-go/internal/model"
)

var (
	profile     string
	identityDir string
	logLevel    string
	autoJoin    string

	cfg   *config.Config
	appRT *app.App
)

func Execute() error {
	root := &cobra.Command{
		Use:          "chat",
		Short:        "Anonymous one-to-one chat in the terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

			var err error
			cfg, err = config.Load()
			if err != nil {
				return err
			}
			if profile != "" {
				cfg.IdentityProfile = profile
			}
			if identityDir != "" {
				cfg.IdentityDir = identityDir
			}
			// Keep the terminal for the conversation unless asked otherwise.
			if logLevel != "" {
				cfg.LogLevel = logLevel
			} else if os.Getenv("LOG_LEVEL") == "" {
				cfg.LogLevel = "warn"
			}
			setLogLevel(cfg.LogLevel)

			if err := cfg.Validate(); err != nil {
				return err
			}

			appRT, err = app.New(cmd.Context(), cfg)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if appRT == nil {
				return nil
			}
			return appRT.Close()
		},
		RunE: runChat,
	}

	root.PersistentFlags().StringVar(&profile, "profile", "", "identity profile (overrides IDENTITY_PROFILE)")
	root.PersistentFlags().StringVar(&identityDir, "identity-dir", "", "identity directory (overrides IDENTITY_DIR)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	root.Flags().StringVar(&autoJoin, "join", "", "join the queue on start with this filter (any, male, female)")

	root.AddCommand(identityCmd(), registerCmd(), meCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return root.ExecuteContext(ctx)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var join model.Filter
	if autoJoin != "" {
		f, ok := model.ParseFilter(autoJoin)
		if !ok {
			return fmt.Errorf("unknown filter %q", autoJoin)
		}
		join = f
	}

	// The machine outlives ctx so /quit and Ctrl-C can still disconnect cleanly.
	machineCtx, stopMachine := context.WithCancel(context.Background())
	machineDone := make(chan struct{})
	go func() {
		defer close(machineDone)
		appRT.Session.Run(machineCtx)
	}()
	defer func() {
		stopMachine()
		<-machineDone
	}()

	r := newREPL(appRT.Session, appRT.API, cmd.OutOrStdout())
	defer appRT.Session.Subscribe(r)()

	clock := jobs.NewQueueClock(config.QueueClockInterval, r.queueTick)
	defer clock.Stop()
	defer appRT.Session.Subscribe(clock)()

	completionJob := jobs.NewChatCompletionJob(appRT.API)
	completionJob.Start()
	defer completionJob.Stop()
	defer appRT.Session.Subscribe(completionJob)()

	r.printf("%s", helpText)
	if join != "" {
		r.report(appRT.Session.JoinQueue(ctx, join))
	}
	return r.Run(ctx, cmd.InOrStdin())
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
