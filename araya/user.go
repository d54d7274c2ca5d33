package araya

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
)

var (
	// columnUserID is the slog attribute key for Discord user IDs
	columnUserID = "user_id"

	columnProgressUsername   = "username"
	columnProgressGlobalName = "global_name"
	columnProgressXP         = "xp"
	columnProgressLevel      = "level"
	columnProgressLastActive = "last_active"
)

const (
	verificationStatusPending  = "pending"
	verificationStatusVerified = "verified"
)

// UserProgress is the per-member XP ledger record. XP is cumulative and
// only moves through XPLedger; Level is denormalized for fast lookups but
// must always equal the level the table evaluates for XP.
//
//nolint:lll // struct tags can't be split
type UserProgress struct {
	// ID is the Discord user ID
	ID string `json:"user_id" gorm:"primaryKey;type:string"`

	// Username, not unique
	Username string `json:"username" gorm:"type:string"`

	// User's display name
	GlobalName string `json:"global_name" gorm:"type:string"`

	// Indicates this user is a Discord bot user. Bots never earn XP.
	Bot bool `json:"bot" gorm:"type:bool"`

	// JSON content of the discord user object
	Content string `json:"content" gorm:"type:string"`

	// Cumulative XP. Non-negative; decreases only via moderator corrections.
	XP int64 `json:"xp" gorm:"column:xp;default:0"`

	// Trust tier derived from XP via the level table
	Level Level `json:"level" gorm:"column:level;default:0"`

	VerificationStatus string `json:"verification_status" gorm:"default:pending"`

	// Set once a trusted social profile has been linked and reviewed
	SocialVerified bool   `json:"social_verified" gorm:"type:bool;default:false"`
	SocialURL      string `json:"social_url"`

	// Running average of builder/destroyer message analysis, in [0,1].
	// 0.5 is neutral.
	BuilderScore     float64 `json:"builder_score" gorm:"default:0.5"`
	AnalyzedMessages int64   `json:"analyzed_messages"`

	// LastActive is the last time this user was seen in a message or command
	LastActive int64 `json:"last_active" gorm:"column:last_active"`

	ModelUnixTime
}

// NewUserProgress builds a fresh lobby-level record for a Discord user.
func NewUserProgress(u discordgo.User) *UserProgress {
	return &UserProgress{
		ID:                 u.ID,
		Username:           u.Username,
		GlobalName:         u.GlobalName,
		Bot:                u.Bot,
		Content:            marshalDiscordUser(u),
		XP:                 0,
		Level:              LevelLobby,
		VerificationStatus: verificationStatusPending,
		BuilderScore:       0.5,
		LastActive:         time.Now().UTC().UnixMilli(),
	}
}

func (u *UserProgress) String() string {
	return fmt.Sprintf("%s [%s]", u.Username, u.ID)
}

func (u *UserProgress) LogValue() slog.Value {
	if u == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.String("user_id", u.ID),
		slog.String("username", u.Username),
		slog.Int64("xp", u.XP),
		slog.Int("level", int(u.Level)),
		slog.Float64("builder_score", u.BuilderScore),
	)
}

// changedDiscordUsername reports whether the Discord profile drifted from
// what's stored, so stale names don't linger on the leaderboard.
func (u *UserProgress) changedDiscordUsername(d discordgo.User) bool {
	return (d.Username != u.Username) || (d.GlobalName != u.GlobalName)
}

// XPAward is one append-only audit row for an XP change. Rows are created
// when an award is applied and never mutated or deleted afterward.
type XPAward struct {
	ModelUintID
	ModelUnixTime

	// AwardID is a process-generated identifier for correlating this award
	// in logs and replies
	AwardID string `json:"award_id" gorm:"uniqueIndex"`

	// ActorID is whoever granted the XP ("system" for engagement rewards)
	ActorID string `json:"actor_id"`

	// UserID is the recipient
	UserID string `json:"user_id" gorm:"index"`

	// Amount may be negative for corrections, bounded by MaxAwardAmount
	Amount int64 `json:"amount"`

	// Reason is a free-text audit note
	Reason string `json:"reason"`
}

// NewXPAward creates an award event with a fresh AwardID.
func NewXPAward(actorID, userID string, amount int64, reason string) XPAward {
	return XPAward{
		AwardID: uuid.NewString(),
		ActorID: actorID,
		UserID:  userID,
		Amount:  amount,
		Reason:  reason,
	}
}

func (a XPAward) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("award_id", a.AwardID),
		slog.String("actor_id", a.ActorID),
		slog.String("user_id", a.UserID),
		slog.Int64("amount", a.Amount),
		slog.String("reason", a.Reason),
	)
}

// Promotion logs a tier change, including administrative demotions.
type Promotion struct {
	ModelUintID
	ModelUnixTime
	UserID     string `json:"user_id" gorm:"index"`
	FromLevel  Level  `json:"from_level"`
	ToLevel    Level  `json:"to_level"`
	PromotedBy string `json:"promoted_by"`
}

// marshalDiscordUser serializes the raw discord user object for auditing.
func marshalDiscordUser(u discordgo.User) string {
	content, err := json.Marshal(u)
	if err != nil {
		return ""
	}
	return string(content)
}
