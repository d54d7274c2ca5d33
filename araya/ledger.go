package araya

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
)

var (
	// ErrInvalidAmount indicates an award that would drive a user's XP
	// negative, or one outside the sane per-award bound.
	ErrInvalidAmount = errors.New("invalid XP amount")

	// ErrUnauthorized indicates a non-moderator invoking a
	// moderator-only command.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStoreUnavailable indicates the backing store errored or timed
	// out. The triggering command is never retried automatically, to
	// avoid duplicate awards.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrExternalAPIUnavailable indicates the conversational API failed
	// or timed out; callers degrade to a canned fallback response.
	ErrExternalAPIUnavailable = errors.New("external API unavailable")
)

// MaxAwardAmount bounds a single award's magnitude, positive or negative.
const MaxAwardAmount = 10000

// XPLedger is the exclusive owner of UserProgress mutations. Nothing else
// writes the xp or level columns.
type XPLedger struct {
	db     DBI
	levels *LevelTable
	logger *slog.Logger
}

func NewXPLedger(db DBI, levels *LevelTable, logger *slog.Logger) *XPLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &XPLedger{
		db:     db,
		levels: levels,
		logger: logger.With(loggerNameKey, "xp_ledger"),
	}
}

// GetProgress returns the user's progress record, creating a zero-XP
// lobby record on first sight. The bool indicates whether the record was
// just created.
func (l *XPLedger) GetProgress(ctx context.Context, u discordgo.User) (
	*UserProgress,
	bool,
	error,
) {
	record, created, err := l.db.GetOrCreateProgress(ctx, u)
	if err != nil {
		return nil, created, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return record, created, nil
}

// Progress returns the stored record for a user ID without creating one.
func (l *XPLedger) Progress(ctx context.Context, userID string) (*UserProgress, error) {
	if cached := l.db.GetCachedProgress(userID); cached != nil {
		return cached, nil
	}
	var record UserProgress
	err := l.db.DB().WithContext(ctx).Where("id = ?", userID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return &record, nil
}

// AwardResult reports the outcome of an applied XP award.
type AwardResult struct {
	Progress      UserProgress
	PreviousLevel Level

	// LevelUp is set when the award raised the user's tier. A single
	// award jumping several tiers still produces exactly one event.
	LevelUp *LevelUpEvent
}

// ApplyAward atomically applies an XP award: the increment happens as a
// conditional SQL expression so concurrent awards to the same user never
// lose updates, the append-only audit row is written in the same
// transaction, and the denormalized level column is recomputed from the
// resulting XP. Returns ErrInvalidAmount without mutating anything if the
// award would drive XP negative or exceeds MaxAwardAmount.
func (l *XPLedger) ApplyAward(ctx context.Context, award XPAward) (*AwardResult, error) {
	if award.Amount > MaxAwardAmount || award.Amount < -MaxAwardAmount {
		return nil, fmt.Errorf(
			"%w: %d exceeds bound of %d",
			ErrInvalidAmount, award.Amount, MaxAwardAmount,
		)
	}

	var result AwardResult
	txErr := l.db.Transaction(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&UserProgress{}).
			Where("id = ? AND xp + ? >= 0", award.UserID, award.Amount).
			Update(columnProgressXP, gorm.Expr("xp + ?", award.Amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&UserProgress{}).Where(
				"id = ?", award.UserID,
			).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return gorm.ErrRecordNotFound
			}
			return ErrInvalidAmount
		}

		if err := tx.Create(&award).Error; err != nil {
			return err
		}

		var record UserProgress
		if err := tx.Where("id = ?", award.UserID).First(&record).Error; err != nil {
			return err
		}

		result.PreviousLevel = record.Level
		newLevel := l.levels.Evaluate(record.XP)
		if newLevel != record.Level {
			if err := tx.Model(&record).Update(
				columnProgressLevel, int(newLevel),
			).Error; err != nil {
				return err
			}
			record.Level = newLevel
			promotion := Promotion{
				UserID:     award.UserID,
				FromLevel:  result.PreviousLevel,
				ToLevel:    newLevel,
				PromotedBy: award.ActorID,
			}
			if err := tx.Create(&promotion).Error; err != nil {
				return err
			}
		}
		result.Progress = record
		return nil
	})

	switch {
	case txErr == nil:
		//
	case errors.Is(txErr, ErrInvalidAmount),
		errors.Is(txErr, gorm.ErrRecordNotFound):
		return nil, txErr
	default:
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, txErr)
	}

	result.LevelUp = DetectLevelUp(result.PreviousLevel, result.Progress.Level)
	l.db.ReloadProgress(award.UserID)
	l.logger.InfoContext(
		ctx, "applied XP award",
		"award", award,
		"xp", result.Progress.XP,
		"level", int(result.Progress.Level),
	)
	return &result, nil
}

// TopN returns up to n progress records ordered by XP descending, ties
// broken by earliest record creation so the leaderboard never flickers
// between queries.
func (l *XPLedger) TopN(ctx context.Context, n int) ([]UserProgress, error) {
	var records []UserProgress
	err := l.db.DB().WithContext(ctx).
		Where("bot = ?", false).
		Order("xp DESC, created_at ASC, id ASC").
		Limit(n).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return records, nil
}

// RecordAnalysis folds one message's builder score into the user's
// running average.
func (l *XPLedger) RecordAnalysis(
	ctx context.Context,
	userID string,
	score float64,
) error {
	err := l.db.Transaction(ctx, func(tx *gorm.DB) error {
		var record UserProgress
		if err := tx.Where("id = ?", userID).First(&record).Error; err != nil {
			return err
		}
		count := record.AnalyzedMessages + 1
		avg := record.BuilderScore + (score-record.BuilderScore)/float64(count)
		return tx.Model(&record).Updates(map[string]any{
			"builder_score":     avg,
			"analyzed_messages": count,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	l.db.ReloadProgress(userID)
	return nil
}

// MarkSocialVerified flags the user as socially verified and stores the
// reviewed URL. Returns true the first time, so the one-time XP reward
// isn't granted twice.
func (l *XPLedger) MarkSocialVerified(
	ctx context.Context,
	userID string,
	url string,
) (bool, error) {
	var first bool
	err := l.db.Transaction(ctx, func(tx *gorm.DB) error {
		var record UserProgress
		if err := tx.Where("id = ?", userID).First(&record).Error; err != nil {
			return err
		}
		if record.SocialVerified {
			return nil
		}
		first = true
		return tx.Model(&record).Updates(map[string]any{
			"social_verified":     true,
			"social_url":          url,
			"verification_status": verificationStatusVerified,
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	l.db.ReloadProgress(userID)
	return first, nil
}
