package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/embedchat/internal/config"
	"github.com/zhouzirui/embedchat/internal/logging"
	"github.com/zhouzirui/embedchat/internal/model/embed"
	"github.com/zhouzirui/embedchat/internal/service/session"
	"github.com/zhouzirui/embedchat/internal/transport"
)

type rootOptions struct {
	attrsFile string
	attrs     []string
	scriptSrc string
	logLevel  string
	logFormat string
}

// app is everything a subcommand needs once flags and environment are read.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	settings embed.Settings
	store    session.Store
	sessions *session.Provider
	client   transport.Client
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close session store")
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "widget",
		Short:         "Headless embed chat widget",
		Long:          "Resolves embed attributes the way the script tag does and talks to an embed chat API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.attrsFile, "attrs", "f", "", "YAML file with embed attributes")
	flags.StringArrayVarP(&opts.attrs, "attr", "a", nil, "embed attribute as key=value, repeatable; overrides --attrs")
	flags.StringVar(&opts.scriptSrc, "script-src", "", "URL the widget script was served from")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: auto, console or json (overrides LOG_FORMAT)")

	root.AddCommand(
		newChatCommand(opts),
		newHistoryCommand(opts),
		newResetCommand(opts),
		newSessionCommand(opts),
		newSettingsCommand(opts),
	)
	return root
}

// resolveSettings builds Settings from the attribute file and flags.
func (o *rootOptions) resolveSettings() (embed.Settings, error) {
	fileAttrs := map[string]string{}
	if o.attrsFile != "" {
		loaded, err := embed.LoadAttributes(o.attrsFile)
		if err != nil {
			return embed.Settings{}, err
		}
		fileAttrs = loaded
	}

	flagAttrs, err := embed.ParseAttributePairs(o.attrs)
	if err != nil {
		return embed.Settings{}, err
	}

	return embed.Resolve(embed.Merge(fileAttrs, flagAttrs), embed.StaticScript(o.scriptSrc)), nil
}

// bootstrap reads the environment, sets up logging and opens the session
// store and transport. Callers must Close the result.
func (o *rootOptions) bootstrap(ctx context.Context) (*app, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load configuration")
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	logger := logging.Setup(cfg.Log)

	settings, err := o.resolveSettings()
	if err != nil {
		return nil, err
	}
	if !settings.Bootable() {
		return nil, transport.ErrNotConfigured
	}

	store, err := session.Open(ctx, cfg.Session)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s session store", cfg.Session.Backend)
	}

	httpClient := transport.NewHTTPClient(
		transport.WithTimeout(cfg.Transport.Timeout),
		transport.WithLogger(logger),
	)
	var client transport.Client = httpClient
	if cfg.Transport.Kind == config.TransportWebSocket {
		client = transport.NewWSClient(httpClient)
	}

	logger.Debug().
		Str("embed_id", settings.EmbedID).
		Str("session_store", string(cfg.Session.Backend)).
		Str("transport", string(cfg.Transport.Kind)).
		Msg("widget configured")

	return &app{
		cfg:      cfg,
		logger:   logger,
		settings: settings,
		store:    store,
		sessions: session.NewProvider(store, session.WithLogger(logger)),
		client:   client,
	}, nil
}
