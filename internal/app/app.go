package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/sfpubsub/internal/auth"
	"github.com/dmitrijs2005/sfpubsub/internal/config"
	"github.com/dmitrijs2005/sfpubsub/internal/cursorstore"
	"github.com/dmitrijs2005/sfpubsub/internal/eventbus"
	"github.com/dmitrijs2005/sfpubsub/internal/flagx"
	"github.com/dmitrijs2005/sfpubsub/internal/logging"
	"github.com/dmitrijs2005/sfpubsub/internal/pubsub"
	"github.com/dmitrijs2005/sfpubsub/internal/retry"
)

var ErrUnknownCommand = errors.New("unknown command")

// App runs one CLI command against a session.
type App struct {
	config  *config.Config
	logger  logging.Logger
	session *pubsub.Session
	// cursors is nil when persistence is disabled.
	cursors *cursorstore.Store

	in  *bufio.Reader
	out io.Writer
	// outMu serializes JSON lines written from receive loops.
	outMu sync.Mutex
}

// NewApp builds the session described by c. Credentials are loaded (and a
// missing password prompted for) before anything is dialed.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(os.Stderr, c.LogFormat, c.LogLevel)

	flow, err := auth.ParseFlow(c.AuthFlow)
	if err != nil {
		return nil, err
	}
	creds := credentialsSource(c.CredentialsFile, flow, os.Stderr)
	// fail fast on a broken file and prompt before anything is dialed
	if _, err := creds.Load(); err != nil {
		return nil, err
	}

	opts := []eventbus.Option{eventbus.WithLogger(logger)}
	if c.Insecure {
		opts = append(opts, eventbus.WithInsecure())
	}
	bus, err := eventbus.Dial(c.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.Endpoint, err)
	}

	authn := auth.NewClient(
		auth.WithDefaultTokenLifetime(c.TokenLifetime),
		auth.WithLogger(logger),
	)
	session := pubsub.NewSession(creds, flow, bus, authn,
		pubsub.WithLogger(logger),
		pubsub.WithRetryPolicy(retry.NewPolicy(c.RetryConfig())),
		pubsub.WithTokenStore(auth.NewTokenStore(c.ExpiryMargin)),
		pubsub.WithBatchSize(c.BatchSize),
		pubsub.WithPublishInFlightLimit(c.PublishInFlight),
	)

	var cursors *cursorstore.Store
	if c.CursorDB != "" {
		cursors, err = cursorstore.Open(ctx, c.CursorDB)
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("cursor store: %w", err)
		}
	}

	return newApp(c, logger, session, cursors, os.Stdin, os.Stdout), nil
}

func newApp(c *config.Config, logger logging.Logger, session *pubsub.Session, cursors *cursorstore.Store, in io.Reader, out io.Writer) *App {
	return &App{
		config:  c,
		logger:  logger.With("module", "app"),
		session: session,
		cursors: cursors,
		in:      bufio.NewReader(in),
		out:     out,
	}
}

// Run executes the command in args (program name excluded) until it
// completes or SIGINT/SIGTERM arrives. The session and cursor store are
// closed on return.
func (a *App) Run(ctx context.Context, args []string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer a.close()

	if a.config.MetricsAddr != "" {
		srv, err := startMetricsServer(ctx, a.config.MetricsAddr, a.logger)
		if err != nil {
			return err
		}
		defer srv.shutdown()
	}

	return a.dispatch(ctx, args)
}

func (a *App) dispatch(ctx context.Context, args []string) error {
	cmd, rest := flagx.SplitCommand(args)

	switch cmd {
	case "topic":
		return a.topic(ctx, rest)
	case "schema":
		return a.schema(ctx, rest)
	case "subscribe":
		return a.subscribe(ctx, rest)
	case "managed":
		return a.managed(ctx, rest)
	case "publish":
		return a.publish(ctx, rest)
	case "cursors":
		return a.listCursors(ctx, rest)
	case "", "help":
		fmt.Fprintln(a.out, "Available commands: topic, schema, subscribe, managed, publish, cursors")
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
	}
}

func (a *App) close() {
	ctx := context.Background()
	if err := a.session.Close(); err != nil {
		a.logger.Warn(ctx, "closing session", "error", err)
	}
	if a.cursors != nil {
		if err := a.cursors.Close(); err != nil {
			a.logger.Warn(ctx, "closing cursor store", "error", err)
		}
	}
}
