package araya

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"

	postgresNotifyChannelProgressUpdated = "araya_progress_updated"
	postgresNotifyChannelStop            = "araya_stop"

	recordSeparator = string(rune(30))
)

var (
	dbOperationTimeout    = 30 * time.Second
	dbNotifierSendTimeout = 15 * time.Second
)

// ModelUnixTime is an embeddable model with Unix millisecond timestamps
// for creation, update and deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// database wraps the GORM connection, serializing writes behind a mutex
// when concurrent writes are disabled (sqlite), and caching UserProgress
// records by user ID.
type database struct {
	db                     *gorm.DB
	mu                     sync.Mutex
	logger                 *slog.Logger
	progressCache          map[string]*UserProgress
	cacheMu                sync.Mutex
	enableConcurrentWrites bool
}

// NewDatabase initializes a database wrapper over the given GORM
// connection. enableConcurrentWrites should be false for sqlite.
func NewDatabase(
	db *gorm.DB,
	log *slog.Logger,
	enableConcurrentWrites bool,
) DBI {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:                     db,
		progressCache:          map[string]*UserProgress{},
		logger:                 log.With(loggerNameKey, "writedb"),
		enableConcurrentWrites: enableConcurrentWrites,
	}
}

func (d *database) DB() *gorm.DB {
	return d.db
}

func (d *database) Lock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Lock()
}

func (d *database) Unlock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Unlock()
}

// LoadProgress resets the progress cache from records active within the
// last 24 hours, or which never recorded activity.
func (d *database) LoadProgress() []UserProgress {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	d.progressCache = map[string]*UserProgress{}

	var records []UserProgress
	_ = d.db.Omit("content").Where(
		"last_active is null OR last_active = 0 OR last_active >= ?",
		time.Now().Add(-24*time.Hour).UnixMilli(),
	).Find(&records)
	for i := 0; i < len(records); i++ {
		u := records[i]
		d.progressCache[u.ID] = &u
	}
	return records
}

func (d *database) GetCachedProgress(userID string) *UserProgress {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	return d.progressCache[userID]
}

func (d *database) ReloadProgress(userID string) *UserProgress {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	var record UserProgress
	if err := d.db.Where("id = ?", userID).Last(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			delete(d.progressCache, userID)
		}
		return nil
	}
	d.progressCache[userID] = &record
	return &record
}

// GetOrCreateProgress retrieves a user's progress from the cache or the
// database, creating a zero-XP lobby record if none exists. Creation is
// idempotent per user ID.
func (d *database) GetOrCreateProgress(
	ctx context.Context,
	u discordgo.User,
) (*UserProgress, bool, error) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()

	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = slog.Default()
	}

	if record, cached := d.progressCache[u.ID]; cached {
		record.LastActive = time.Now().UTC().UnixMilli()
		updates := map[string]any{columnProgressLastActive: record.LastActive}
		if record.changedDiscordUsername(u) {
			record.Username = u.Username
			record.GlobalName = u.GlobalName
			updates[columnProgressUsername] = u.Username
			updates[columnProgressGlobalName] = u.GlobalName
		}
		if _, err := d.Updates(ctx, record, updates); err != nil {
			log.Error("error updating progress", "user", record, tint.Err(err))
		}
		return record, false, nil
	}

	var existing UserProgress
	err := d.db.WithContext(ctx).Where("id = ?", u.ID).First(&existing).Error
	switch {
	case err == nil:
		d.progressCache[u.ID] = &existing
		return &existing, false, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, false, err
	}

	record := NewUserProgress(u)
	log.InfoContext(ctx, "creating new progress record", "user", record)
	if _, err := d.Create(ctx, record); err != nil {
		log.Error("error creating progress record", "user", record, tint.Err(err))
		return nil, true, err
	}
	d.progressCache[u.ID] = record
	return record, true, nil
}

func (d *database) Create(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	ctx, cancel := withDefaultTimeout(ctx, dbOperationTimeout)
	defer cancel()

	db := d.db.WithContext(ctx)
	if len(omit) > 0 {
		rv := db.Omit(omit...).Create(value)
		return rv.RowsAffected, rv.Error
	}
	rv := db.Create(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Updates(ctx context.Context, model, values any) (
	rowsAffected int64,
	err error,
) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	ctx, cancel := withDefaultTimeout(ctx, dbOperationTimeout)
	defer cancel()

	rv := d.db.WithContext(ctx).Model(model).Updates(values)
	return rv.RowsAffected, rv.Error
}

func (d *database) Save(ctx context.Context, value any, omit ...string) (
	rowsAffected int64,
	err error,
) {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	ctx, cancel := withDefaultTimeout(ctx, dbOperationTimeout)
	defer cancel()

	if len(omit) > 0 {
		rv := d.db.WithContext(ctx).Omit(omit...).Save(value)
		return rv.RowsAffected, rv.Error
	}
	rv := d.db.WithContext(ctx).Save(value)
	return rv.RowsAffected, rv.Error
}

func (d *database) Transaction(
	ctx context.Context,
	fc func(tx *gorm.DB) error,
	opts ...*sql.TxOptions,
) error {
	if !d.enableConcurrentWrites {
		d.mu.Lock()
		defer d.mu.Unlock()
	}
	ctx, cancel := withDefaultTimeout(ctx, dbOperationTimeout)
	defer cancel()

	return d.db.WithContext(ctx).Transaction(fc, opts...)
}

// withDefaultTimeout bounds a context with the given timeout, unless the
// caller's context already carries a deadline.
func withDefaultTimeout(ctx context.Context, timeout time.Duration) (
	context.Context,
	context.CancelFunc,
) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// DBI defines the interface for database operations, primarily so the
// ledger and handlers can be tested against a mock. [database] implements
// it for 'real' DB operations.
type DBI interface {
	DB() *gorm.DB
	Lock()
	Unlock()

	// LoadProgress refreshes the in-memory UserProgress cache
	LoadProgress() []UserProgress

	// GetCachedProgress returns the cached record for the user, or nil
	GetCachedProgress(userID string) *UserProgress

	// ReloadProgress refreshes a single user's cache entry from the DB
	ReloadProgress(userID string) *UserProgress

	GetOrCreateProgress(ctx context.Context, u discordgo.User) (
		*UserProgress,
		bool,
		error,
	)
	Create(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Updates(ctx context.Context, model any, values any) (rowsAffected int64, err error)
	Save(ctx context.Context, value any, omit ...string) (rowsAffected int64, err error)
	Transaction(
		ctx context.Context,
		fc func(tx *gorm.DB) error,
		opts ...*sql.TxOptions,
	) error
}

// CreateDB initializes a GORM connection for the given database type
// ('sqlite' or 'postgres') and runs automigration for the bot's models.
func CreateDB(ctx context.Context, databaseType string, dsn string) (*gorm.DB, error) {
	handler := tint.NewHandler(
		os.Stdout,
		&tint.Options{
			Level:     slog.LevelWarn,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, 500*time.Millisecond)
	dbLogger := slog.New(handler)

	dbLogger.InfoContext(
		ctx,
		"Initializing database",
		"database_type", databaseType,
	)
	db, err := getDB(databaseType, dsn, gormLogger)
	if err != nil {
		return db, err
	}

	txn := db.WithContext(ctx).Begin()
	err = txn.Migrator().AutoMigrate(
		&UserProgress{},
		&XPAward{},
		&Promotion{},
		&Conversation{},
	)
	if err != nil {
		return db, err
	}
	if commitErr := txn.Commit().Error; commitErr != nil {
		return db, commitErr
	}
	return db, nil
}

func getDB(
	databaseType string,
	dsn string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(dsn)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(
			sqlite.Open(dsn),
			&gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	case dbTypePostgres:
		return gorm.Open(
			postgres.Open(dsn), &gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}

// DBNotifier announces cross-instance events: a user's progress changed
// (other instances should reload their cache entry), or the bot should
// stop. The postgres implementation rides LISTEN/NOTIFY; the sqlite one
// short-circuits in-process since sqlite never has a second instance.
type DBNotifier interface {
	ProgressChannelName() string

	// ProgressUpdated announces that a user's progress record changed
	ProgressUpdated(ctx context.Context, userID string) bool

	StopChannelName() string

	// Stop sends a shutdown signal to all bot instances
	Stop(context.Context) bool

	// ID identifies this notifier, so instances can ignore their own
	// notifications
	ID() string
	Listen(ctx context.Context, channel string) error
}

func newDBNotifier(b *Bot) (DBNotifier, error) {
	notifyID, err := generateRandomHexString(16)
	if err != nil {
		return nil, err
	}
	log := b.logger.With(loggerNameKey, "db_notifier")
	switch b.config.DatabaseType {
	case dbTypeSQLite:
		return &sqliteNotifier{logger: log, bot: b, notifyID: notifyID}, nil
	case dbTypePostgres:
		return &postgresNotifier{logger: log, bot: b, notifyID: notifyID}, nil
	default:
		return nil, errors.New("invalid database type")
	}
}

type sqliteNotifier struct {
	logger   *slog.Logger
	bot      *Bot
	notifyID string
}

func (s *sqliteNotifier) Listen(_ context.Context, channel string) error {
	s.logger.Debug("listener called", "channel", channel)
	return nil
}

func (sqliteNotifier) ProgressChannelName() string { return "" }

func (sqliteNotifier) StopChannelName() string { return "" }

func (s *sqliteNotifier) ID() string { return s.notifyID }

func (s *sqliteNotifier) ProgressUpdated(ctx context.Context, userID string) bool {
	select {
	case s.bot.triggerProgressRefreshCh <- userID:
	case <-ctx.Done():
		s.logger.Warn("timeout sending progress refresh", "user_id", userID)
		return false
	}
	return true
}

func (s *sqliteNotifier) Stop(ctx context.Context) bool {
	s.logger.Info("notifying stop signal")
	select {
	case s.bot.signalStop <- struct{}{}:
	case <-ctx.Done():
		s.logger.Warn("timeout sending stop signal")
		return false
	}
	return true
}

type postgresNotifier struct {
	logger   *slog.Logger
	bot      *Bot
	notifyID string
}

func (postgresNotifier) ProgressChannelName() string {
	return postgresNotifyChannelProgressUpdated
}

func (postgresNotifier) StopChannelName() string {
	return postgresNotifyChannelStop
}

func (p *postgresNotifier) ID() string { return p.notifyID }

func (p *postgresNotifier) ProgressUpdated(ctx context.Context, userID string) bool {
	msg := strings.Join([]string{p.ID(), userID}, recordSeparator)
	notifyErr := p.bot.writeDB.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		p.ProgressChannelName(),
		msg,
	).Error
	if notifyErr != nil {
		p.logger.ErrorContext(
			ctx,
			"Error sending NOTIFY for progress update",
			tint.Err(notifyErr),
			"user_id", userID,
		)
		return false
	}
	return true
}

func (p *postgresNotifier) Stop(ctx context.Context) bool {
	notifyErr := p.bot.writeDB.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		p.StopChannelName(),
		p.ID(),
	).Error
	if notifyErr != nil {
		p.logger.ErrorContext(ctx, "Error sending NOTIFY to stop bot", tint.Err(notifyErr))
		return false
	}
	p.logger.Info("sent stop signal", "pg_notify_id", p.ID())
	return true
}

func (p *postgresNotifier) Listen(ctx context.Context, channel string) error {
	p.logger.Info("starting db listener", "channel", channel)

	config, err := pgxpool.ParseConfig(p.bot.config.Database)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error parsing database config", tint.Err(err))
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error creating connection pool", tint.Err(err))
		return err
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error acquiring connection", tint.Err(err))
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, fmt.Sprintf("LISTEN %s", channel)); err != nil {
		p.logger.ErrorContext(ctx, "Error setting up listener", tint.Err(err))
		return err
	}
	logger := p.logger.With("channel", channel)
	logger.InfoContext(ctx, "Started listening on channel")

	for ctx.Err() == nil {
		notification, e := conn.Conn().WaitForNotification(ctx)
		if e != nil {
			logger.ErrorContext(ctx, "Error waiting for notification", tint.Err(e))
			time.Sleep(5 * time.Second) // Wait before retrying
			continue
		}

		switch channel {
		case p.ProgressChannelName():
			notifierID, userID := parseProgressNotification(notification.Payload)
			if notifierID == p.ID() {
				continue
			}
			select {
			case p.bot.triggerProgressRefreshCh <- userID:
				logger.Info("sent signal to reload progress", "user_id", userID)
			case <-time.After(dbNotifierSendTimeout):
				logger.Warn("timed out sending progress refresh", "user_id", userID)
			}
		case p.StopChannelName():
			if notification.Payload == p.ID() {
				continue
			}
			logger.InfoContext(ctx, "received stop signal via NOTIFY")
			select {
			case p.bot.signalStop <- struct{}{}:
				logger.Info("forwarded stop signal")
			case <-time.After(dbNotifierSendTimeout):
				logger.Warn("timed out forwarding stop signal")
			}
		default:
			logger.Warn("Received unknown notification", "channel", notification.Channel)
		}
	}

	return nil
}

func parseProgressNotification(s string) (notifierID, userID string) {
	before, after, _ := strings.Cut(s, recordSeparator)
	return before, after
}
