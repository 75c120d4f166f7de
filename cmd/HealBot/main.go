// Command HealBot runs the H-E-A-L practice bot.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/HealBot/internal/api"
	"github.com/BTreeMap/HealBot/internal/flow"
	"github.com/BTreeMap/HealBot/internal/genai"
	"github.com/BTreeMap/HealBot/internal/lockfile"
	"github.com/BTreeMap/HealBot/internal/messaging"
	"github.com/BTreeMap/HealBot/internal/reflection"
	"github.com/BTreeMap/HealBot/internal/store"
	"github.com/BTreeMap/HealBot/internal/twiliowhatsapp"
	"github.com/BTreeMap/HealBot/internal/whatsapp"
)

// newGenerator builds the text generation backend. Replaced in tests.
var newGenerator = func(ctx context.Context, cfg Config) (genai.Generator, error) {
	return genai.New(ctx, cfg.LLMProvider, buildGenAIOptions(cfg)...)
}

func main() {
	initializeLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(loadEnvironmentConfig()).ExecuteContext(ctx); err != nil {
		slog.Error("HealBot failed", "error", err)
		os.Exit(1)
	}
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

func newRootCmd(cfg Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "healbot",
		Short:         "HealBot guides users through the H-E-A-L practice",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	bindFlags(root, &cfg)
	root.AddCommand(newServeCmd(&cfg), newChatCmd(&cfg), newHealthcheckCmd(&cfg))
	return root
}

func newServeCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the configured chat transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	f.StringVar(&cfg.Transport, "transport", cfg.Transport, "chat transport: whatsapp, twilio or none (overrides $HEAL_TRANSPORT)")
	f.StringVar(&cfg.WhatsAppDSN, "whatsapp-dsn", cfg.WhatsAppDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)")
	f.StringVar(&cfg.QROutput, "qr-output", cfg.QROutput, "path to write the WhatsApp login QR code")
	f.BoolVar(&cfg.NumericCode, "numeric-code", cfg.NumericCode, "print the WhatsApp login code as text instead of a QR code")
	return cmd
}

func newChatCmd(cfg *Config) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Practice in the terminal, one line per message",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := *cfg
			// Terminal chats are throwaway unless a store was asked for.
			if !cmd.Flags().Changed("store-dsn") {
				c.StoreDSN = store.DSNTypeMemory
			}
			return runChat(cmd.Context(), c, userID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&userID, "user", "console", "user id for the terminal session")
	return cmd
}

func newHealthcheckCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe the session store and the reflection engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(cmd.Context(), *cfg, cmd.OutOrStdout())
		},
	}
}

// buildCore opens the store and builds the engine and state machine.
func buildCore(ctx context.Context, cfg Config) (store.Store, *reflection.Engine, *flow.Machine, error) {
	st, err := store.Open(cfg.StoreDSN, buildStoreOptions(cfg)...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open session store: %w", err)
	}
	gen, err := newGenerator(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, nil, nil, fmt.Errorf("build %q generator: %w", cfg.LLMProvider, err)
	}
	engine := reflection.NewEngine(gen, buildReflectionOptions(cfg)...)
	flowOpts, err := buildFlowOptions(cfg)
	if err != nil {
		st.Close()
		return nil, nil, nil, err
	}
	return st, engine, flow.NewMachine(st, engine, flowOpts...), nil
}

func runServe(ctx context.Context, cfg Config) error {
	if err := ensureDirectoriesExist(cfg); err != nil {
		return err
	}
	st, engine, machine, err := buildCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// The probe only informs; a slow or failing engine must not block startup.
	go func() {
		probeCtx, cancel := context.WithTimeout(ctx, reflection.HealthCheckTimeout)
		defer cancel()
		if engine.HealthCheck(probeCtx) {
			slog.Info("HealBot engine health check passed")
		} else {
			slog.Warn("HealBot engine health check failed; replies may fall back to apologies")
		}
	}()

	apiOpts := append(buildAPIOptions(cfg), api.WithEngineHealth(engine), api.WithStorePing(st))
	svc, release, err := buildTransport(ctx, cfg, &apiOpts)
	if err != nil {
		return err
	}
	defer release()

	server := api.NewServer(machine, apiOpts...)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })

	if svc != nil {
		if err := svc.Start(gctx); err != nil {
			return fmt.Errorf("start %s transport: %w", cfg.Transport, err)
		}
		handler := messaging.NewResponseHandler(svc, machine, messaging.WithDedup(st))
		g.Go(func() error { return handler.Run(gctx) })
		g.Go(func() error {
			<-gctx.Done()
			return svc.Stop()
		})
	}

	if purger, ok := st.(store.Purger); ok && store.DetectDSNType(cfg.StoreDSN) != store.DSNTypeMemory {
		sweeper := store.NewSweeper(purger, cfg.SweepInterval)
		g.Go(func() error {
			sweeper.Run(gctx)
			return nil
		})
	}

	slog.Info("HealBot started", "api_addr", cfg.APIAddr, "transport", cfg.Transport, "store", store.DetectDSNType(cfg.StoreDSN))
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("HealBot exited successfully")
	return nil
}

// buildTransport connects the configured chat transport. The returned
// release func frees anything the transport holds.
func buildTransport(ctx context.Context, cfg Config, apiOpts *[]api.Option) (messaging.Service, func(), error) {
	noop := func() {}
	switch cfg.Transport {
	case TransportNone, "":
		return nil, noop, nil

	case TransportWhatsApp:
		lock, err := lockfile.Acquire(cfg.StateDir, TransportWhatsApp)
		if err != nil {
			return nil, noop, err
		}
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(cfg)...)
		if err != nil {
			lock.Release()
			return nil, noop, fmt.Errorf("connect WhatsApp: %w", err)
		}
		release := func() {
			if err := lock.Release(); err != nil {
				slog.Warn("HealBot failed to release state directory lock", "error", err)
			}
		}
		return messaging.NewWhatsAppService(client), release, nil

	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient(buildTwilioOptions(cfg)...)
		if err != nil {
			return nil, noop, fmt.Errorf("build Twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client)
		if cfg.TwilioWebhookURL != "" {
			svc.RequireSignature(client, cfg.TwilioWebhookURL)
		} else {
			slog.Warn("TWILIO_WEBHOOK_URL not set; webhook signatures are not verified")
		}
		*apiOpts = append(*apiOpts, api.WithTwilioWebhook(svc.TwilioWebhookHandler))
		return svc, noop, nil
	}
	return nil, noop, fmt.Errorf("unknown transport %q", cfg.Transport)
}

func runChat(ctx context.Context, cfg Config, userID string, in io.Reader, out io.Writer) error {
	st, _, machine, err := buildCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := messaging.NewConsoleService(userID, in, out)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()
	fmt.Fprintln(out, "HealBot terminal chat. Send /start to begin, Ctrl-D to quit.")
	// One at a time so replies follow the typed order.
	return messaging.NewResponseHandler(svc, machine, messaging.WithMaxConcurrent(1)).Run(ctx)
}

func runHealthcheck(ctx context.Context, cfg Config, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, reflection.HealthCheckTimeout+5*time.Second)
	defer cancel()

	st, engine, _, err := buildCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var errs []error
	if err := st.Ping(ctx); err != nil {
		fmt.Fprintf(out, "store: down (%v)\n", err)
		errs = append(errs, fmt.Errorf("store: %w", err))
	} else {
		fmt.Fprintln(out, "store: up")
	}
	if engine.HealthCheck(ctx) {
		fmt.Fprintln(out, "engine: up")
	} else {
		fmt.Fprintln(out, "engine: down")
		errs = append(errs, errors.New("engine health check failed"))
	}
	return errors.Join(errs...)
}
