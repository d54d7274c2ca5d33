package araya

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Overwritten at build time via:
// -ldflags "-X github.com/overkillkulture/araya-discord-bot/araya.Version=$$(date +'%Y%m%d')"
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var defaultLogWriter io.Writer = os.Stdout

// Bot is the top-level ARAYA process: the Discord gateway connection,
// the XP ledger over the shared database, and (optionally) the embedded
// conversational API.
type Bot struct {
	config     *Config
	db         *gorm.DB
	writeDB    DBI
	logger     *slog.Logger
	logHandler slog.Handler

	discord     *Discord
	api         *API
	arayaClient *ArayaClient
	levels      *LevelTable
	ledger      *XPLedger
	dispatcher  *CommandDispatcher
	notifier    DBNotifier
	history     *channelHistory

	messageLimiters map[string]*rate.Limiter
	limiterMu       sync.Mutex

	// signalStop enables an explicit stop signal to be sent to the bot,
	// either in-process or from another instance via the notifier
	signalStop chan struct{}

	// triggerProgressRefreshCh carries user IDs whose cached progress
	// records should be reloaded from the database
	triggerProgressRefreshCh chan string

	// runMu prevents concurrent Run invocations
	runMu     sync.Mutex
	startedAt time.Time
}

// New assembles a Bot from the given config. The database connection is
// deferred until [Bot.Run].
func New(config *Config) (*Bot, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	b := &Bot{
		config:                   config,
		levels:                   NewLevelTable(),
		messageLimiters:          map[string]*rate.Limiter{},
		triggerProgressRefreshCh: make(chan string, 1),
		history: newChannelHistory(
			config.XP.ChannelHistorySize,
			config.XP.HistoryContextSize,
		),
	}

	b.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     b.config.LogLevel,
			AddSource: true,
		},
	)
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	b.config.Discord.httpClient = b.config.HTTPClient

	disc, err := newDiscord(b.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     b.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if disc != nil {
		disc.logger = slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     b.config.Discord.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "discord")
		disc.bot = b
	}
	b.discord = disc

	b.arayaClient = NewArayaClient(
		b.config.Araya,
		b.config.HTTPClient,
		b.logger.With(loggerNameKey, "araya_client"),
	)

	b.dispatcher = NewCommandDispatcher(b.config.Discord.CommandPrefix, b.logger)
	b.registerCommands(b.dispatcher)

	return b, errors.Join(errs...)
}

// Ledger exposes the XP ledger, for callers embedding the bot.
func (b *Bot) Ledger() *XPLedger {
	return b.ledger
}

// initDB opens the database, runs migrations and warms the progress
// cache.
func (b *Bot) initDB(ctx context.Context) error {
	db, err := CreateDB(ctx, b.config.DatabaseType, b.config.Database)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	b.db = db
	b.writeDB = NewDatabase(
		db,
		b.logger.With(loggerNameKey, "database"),
		b.config.DatabaseType == dbTypePostgres,
	)
	b.ledger = NewXPLedger(b.writeDB, b.levels, b.logger)
	loaded := b.writeDB.LoadProgress()
	b.logger.InfoContext(ctx, "warmed progress cache", "records", len(loaded))
	return nil
}

// Run starts the bot and blocks until the context is canceled or a stop
// signal arrives.
func (b *Bot) Run(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.signalStop = make(chan struct{}, 1)
	b.startedAt = time.Now()
	logger := b.logger

	if err := b.config.Validate(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			logger.Warn("context canceled, sending stop signal")
			b.signalStop <- struct{}{}
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	if err := b.initDB(startCtx); err != nil {
		startCancel()
		return err
	}
	startCancel()

	notifier, err := newDBNotifier(b)
	if err != nil {
		logger.Error("error creating db notifier", tint.Err(err))
		return err
	}
	b.notifier = notifier

	g, runCtx := errgroup.WithContext(ctx)

	if b.config.API != nil && b.config.API.Enabled {
		b.api = newAPI(
			b.config.API,
			b.writeDB,
			b.logger,
			b.config.HTTPClient,
		)
		g.Go(
			func() error {
				httpErr := b.api.Serve(runCtx)
				if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
					logger.ErrorContext(runCtx, "error serving api HTTP", tint.Err(httpErr))
					return httpErr
				}
				return nil
			},
		)
	}

	if channel := b.notifier.ProgressChannelName(); channel != "" {
		g.Go(
			func() error {
				if e := b.notifier.Listen(runCtx, channel); e != nil {
					logger.ErrorContext(runCtx, "error listening to progress channel", tint.Err(e))
				}
				return nil
			},
		)
	}
	if channel := b.notifier.StopChannelName(); channel != "" {
		g.Go(
			func() error {
				if e := b.notifier.Listen(runCtx, channel); e != nil {
					logger.ErrorContext(runCtx, "error listening to stop channel", tint.Err(e))
				}
				return nil
			},
		)
	}

	g.Go(
		func() error {
			b.watchProgressRefresh(runCtx)
			return nil
		},
	)

	if err = b.initDiscordSession(ctx); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord", tint.Err(err))
		cancel()
		_ = g.Wait()
		return err
	}

	logger.InfoContext(ctx, "started", "version", Version)

	<-ctx.Done()
	return b.shutdown(g)
}

// watchProgressRefresh reloads cached progress records as refresh
// signals arrive, locally or from other instances.
func (b *Bot) watchProgressRefresh(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case userID := <-b.triggerProgressRefreshCh:
			record := b.writeDB.ReloadProgress(userID)
			if record == nil {
				b.logger.Warn("progress refresh found no record", columnUserID, userID)
			} else {
				b.logger.Debug("reloaded progress", columnUserID, userID)
			}
		}
	}
}

// initDiscordSession creates the gateway session, attaches handlers and
// opens the websocket connection.
func (b *Bot) initDiscordSession(ctx context.Context) error {
	session, err := b.discord.newSession()
	if err != nil {
		return err
	}
	b.discord.session = session

	b.discord.discordgoRemoveHandlerFuncs = append(
		b.discord.discordgoRemoveHandlerFuncs,
		session.AddHandler(b.discord.handlerReady()),
		session.AddHandler(b.discord.handlerConnect()),
		session.AddHandler(b.discord.handlerDisconnect()),
		session.AddHandler(b.handlerMessageCreate()),
	)

	b.logger.InfoContext(ctx, "connecting to discord")
	if err = session.Open(); err != nil {
		return fmt.Errorf("error connecting to discord: %w", err)
	}
	return nil
}

// shutdown closes the discord connection and the API server, waiting up
// to ShutdownTimeout for background work to stop.
func (b *Bot) shutdown(g *errgroup.Group) error {
	logger := b.logger
	logger.Warn("shutting down")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		b.config.ShutdownTimeout,
	)
	defer cancel()

	var errs []error

	if b.discord != nil && b.discord.session != nil {
		for _, removeHandler := range b.discord.discordgoRemoveHandlerFuncs {
			removeHandler()
		}
		if err := b.discord.session.Close(); err != nil {
			logger.Error("error closing discord session", tint.Err(err))
			errs = append(errs, err)
		}
	}

	if b.api != nil {
		if err := b.api.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down API", tint.Err(err))
			errs = append(errs, err)
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()
	select {
	case err := <-done:
		if err != nil {
			errs = append(errs, err)
		}
	case <-shutdownCtx.Done():
		logger.Warn("timed out waiting for background work")
		errs = append(errs, shutdownCtx.Err())
	}

	logger.Warn("shutdown complete")
	return errors.Join(errs...)
}

// Stop requests a graceful stop via the notifier, so the signal also
// reaches other instances when running on postgres.
func (b *Bot) Stop(ctx context.Context) {
	if b.notifier != nil {
		b.notifier.Stop(ctx)
		return
	}
	select {
	case b.signalStop <- struct{}{}:
	case <-ctx.Done():
	}
}
