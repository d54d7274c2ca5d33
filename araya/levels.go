package araya

import (
	"fmt"
	"strings"
)

// Level is one of the six trust tiers a community member can hold.
type Level int

const (
	LevelLobby Level = iota
	LevelSeedling
	LevelSapling
	LevelTree
	LevelForest
	LevelOracle
)

// MaxLevel is the highest tier. XP itself is unbounded; levels cap here.
const MaxLevel = LevelOracle

func (l Level) String() string {
	def, ok := defaultLevelDefinitions[l]
	if !ok {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return def.Name
}

// LevelDefinition describes a single trust tier: the XP needed to reach it,
// and the channels/perks it unlocks on top of the tiers below it.
type LevelDefinition struct {
	Level      Level    `json:"level"`
	Name       string   `json:"name"`
	Title      string   `json:"title"`
	XPRequired int64    `json:"xp_required"`
	Color      string   `json:"color"`
	Channels   []string `json:"channels"`
	Perks      []string `json:"perks"`
}

var defaultLevelDefinitions = map[Level]LevelDefinition{
	LevelLobby: {
		Level:      LevelLobby,
		Name:       "LOBBY",
		Title:      "Newcomer",
		XPRequired: 0,
		Color:      "#808080",
		Channels:   []string{"verification", "introductions", "araya-chat"},
		Perks:      []string{"Can chat with ARAYA", "Read-only most channels"},
	},
	LevelSeedling: {
		Level:      LevelSeedling,
		Name:       "SEEDLING",
		Title:      "Verified Human",
		XPRequired: 50,
		Color:      "#90EE90",
		Channels:   []string{"lounge", "how-to-help", "wins-your-mission-update"},
		Perks:      []string{"Can chat in lounge", "Can claim simple tasks"},
	},
	LevelSapling: {
		Level:      LevelSapling,
		Name:       "SAPLING",
		Title:      "Active Builder",
		XPRequired: 200,
		Color:      "#32CD32",
		Channels:   []string{"task-board", "bug-reports", "tutorials"},
		Perks:      []string{"Can claim any task", "Can report bugs", "Voice access"},
	},
	LevelTree: {
		Level:      LevelTree,
		Name:       "TREE",
		Title:      "Trusted Builder",
		XPRequired: 500,
		Color:      "#228B22",
		Channels:   []string{"t1-builders", "t2-architects", "revenue-streams"},
		Perks:      []string{"Trinity hub access", "Can assign tasks to others"},
	},
	LevelForest: {
		Level:      LevelForest,
		Name:       "FOREST",
		Title:      "Core Team",
		XPRequired: 1000,
		Color:      "#006400",
		Channels:   []string{"crypto-launch", "alerts"},
		Perks:      []string{"Financial discussions", "Strategy input"},
	},
	LevelOracle: {
		Level:      LevelOracle,
		Name:       "ORACLE",
		Title:      "Inner Circle",
		XPRequired: 2500,
		Color:      "#7c3aed",
		Channels:   []string{"command-center", "audit-log", "moderator-only"},
		Perks:      []string{"Full access", "Admin capabilities", "Direct comms"},
	},
}

// XPRewards maps engagement events to the XP they earn.
var XPRewards = map[string]int64{
	"message":           1,
	"helpful_message":   3,
	"question_answered": 10,
	"task_claimed":      5,
	"task_completed":    20,
	"bug_reported":      10,
	"bug_fixed":         50,
	"win_shared":        5,
	"social_verified":   25,
	"daily_challenge":   25,
	"referred_user":     50,
	"content_created":   30,
}

// LevelTable is the immutable trust ladder, ordered by level. It's loaded
// once at startup and passed explicitly to anything that evaluates XP.
type LevelTable struct {
	levels []LevelDefinition
}

// NewLevelTable returns the six-tier table with the community defaults.
func NewLevelTable() *LevelTable {
	levels := make([]LevelDefinition, 0, len(defaultLevelDefinitions))
	for l := LevelLobby; l <= MaxLevel; l++ {
		levels = append(levels, defaultLevelDefinitions[l])
	}
	return &LevelTable{levels: levels}
}

// Evaluate returns the highest level whose XP requirement is satisfied by
// the given cumulative XP. Total over all inputs: negative XP evaluates the
// same as zero, and XP past the top threshold stays at the top tier.
func (t *LevelTable) Evaluate(xp int64) Level {
	current := LevelLobby
	for _, def := range t.levels {
		if xp >= def.XPRequired {
			current = def.Level
		}
	}
	return current
}

// Definition returns the definition for the given level, clamped to the
// table's bounds.
func (t *LevelTable) Definition(l Level) LevelDefinition {
	if l < LevelLobby {
		l = LevelLobby
	}
	if l > MaxLevel {
		l = MaxLevel
	}
	return t.levels[int(l)]
}

// NextThreshold returns the XP requirement of the level above the given
// one, and false if the given level is already the top tier.
func (t *LevelTable) NextThreshold(l Level) (int64, bool) {
	if l >= MaxLevel {
		return 0, false
	}
	return t.Definition(l + 1).XPRequired, true
}

// Grants is the full set of channels and perks a level unlocks, including
// everything inherited from the tiers below it.
type Grants struct {
	Channels []string `json:"channels"`
	Perks    []string `json:"perks"`
}

// GrantsFor returns the cumulative channel/perk set for all tiers at or
// below the given level. It only computes the target set - reconciling it
// against actual Discord role state is the caller's job.
func (t *LevelTable) GrantsFor(l Level) Grants {
	if l > MaxLevel {
		l = MaxLevel
	}
	var g Grants
	for _, def := range t.levels {
		if def.Level > l {
			break
		}
		g.Channels = append(g.Channels, def.Channels...)
		g.Perks = append(g.Perks, def.Perks...)
	}
	return g
}

// LevelUpEvent records a single promotion-worthy change, however many
// tiers the underlying XP change jumped.
type LevelUpEvent struct {
	From Level
	To   Level
}

// DetectLevelUp returns a single event when newLevel is above oldLevel,
// and nil otherwise. Decreases (administrative XP corrections) never
// produce an event.
func DetectLevelUp(oldLevel, newLevel Level) *LevelUpEvent {
	if newLevel <= oldLevel {
		return nil
	}
	return &LevelUpEvent{From: oldLevel, To: newLevel}
}

// welcomeMessage greets a first-seen user and explains the ladder.
func welcomeMessage(username string) string {
	return fmt.Sprintf(
		`Welcome to the Consciousness Revolution, **%s**!

You're currently in the **LOBBY** (Level 0). To unlock more channels and features, please answer a few questions:

**1. What brings you here?** What are you hoping to accomplish?
**2. What skills do you bring?** (coding, design, writing, marketing, etc.)
**3. Are you here to:** BUILD / GET HELP / EXPLORE / CONTRIBUTE?
**4. Share a social media link** so we can verify you're a real human with history.

Once verified, you'll unlock:
- Level 1 (50 XP): Lounge access, simple tasks
- Level 2 (200 XP): Task board, bug reports
- Level 3 (500 XP): Trinity Hub, revenue discussions

Type your answers here and ARAYA will process them!`,
		username,
	)
}

// levelUpMessage announces a promotion, naming the new tier and what it
// unlocks.
func (t *LevelTable) levelUpMessage(username string, newLevel Level) string {
	def := t.Definition(newLevel)
	next := "MAX"
	if threshold, ok := t.NextThreshold(newLevel); ok {
		next = fmt.Sprintf("%d", threshold)
	}
	return fmt.Sprintf(
		`**LEVEL UP!**

**%s** has reached **Level %d: %s**!

**Title:** %s
**New Channels:** %s
**Perks:** %s

Keep building! Next level at %s XP.`,
		username,
		int(newLevel),
		def.Name,
		def.Title,
		strings.Join(def.Channels, ", "),
		strings.Join(def.Perks, ", "),
		next,
	)
}
