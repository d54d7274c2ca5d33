package araya

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
)

const (
	CommandPing        = "ping"
	CommandStatus      = "status"
	CommandLevel       = "level"
	CommandLeaderboard = "leaderboard"
	CommandGiveXP      = "give_xp"
	CommandHelp        = "help_araya"
)

// CommandRequest is the parsed form of a prefix command, pre-stripped of
// gateway concerns so handlers stay testable without a Discord session.
type CommandRequest struct {
	User      discordgo.User
	ChannelID string
	GuildID   string
	Args      []string

	// Mentions carries any users mentioned in the command message, so
	// handlers can resolve mention-style arguments
	Mentions []*discordgo.User

	// Moderator is true when the invoking user holds the Manage
	// Messages permission in the channel
	Moderator bool
}

type commandHandlerFunc func(ctx context.Context, req CommandRequest) (string, error)

// Command pairs a handler with its dispatch metadata.
type Command struct {
	Name          string
	Description   string
	ModeratorOnly bool
	handler       commandHandlerFunc
}

// CommandDispatcher parses prefix commands out of message content and
// routes them to registered handlers with a uniform contract.
type CommandDispatcher struct {
	prefix   string
	commands map[string]*Command
	logger   *slog.Logger
}

func NewCommandDispatcher(prefix string, logger *slog.Logger) *CommandDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandDispatcher{
		prefix:   prefix,
		commands: map[string]*Command{},
		logger:   logger.With(loggerNameKey, "commands"),
	}
}

func (d *CommandDispatcher) Register(cmd *Command) {
	d.commands[cmd.Name] = cmd
}

// Parse splits message content into a command name and arguments.
// Returns false when the content isn't a known prefix command.
func (d *CommandDispatcher) Parse(content string) (name string, args []string, ok bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, d.prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, d.prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	name = strings.ToLower(fields[0])
	if _, registered := d.commands[name]; !registered {
		return "", nil, false
	}
	return name, fields[1:], true
}

// Dispatch runs the named command. Moderator-only commands are rejected
// with ErrUnauthorized before the handler (or the ledger) is touched.
func (d *CommandDispatcher) Dispatch(
	ctx context.Context,
	name string,
	req CommandRequest,
) (string, error) {
	cmd, ok := d.commands[name]
	if !ok {
		return "", fmt.Errorf("unknown command: %s", name)
	}
	if cmd.ModeratorOnly && !req.Moderator {
		d.logger.WarnContext(
			ctx,
			"unauthorized command invocation",
			"command", name,
			"user_id", req.User.ID,
		)
		return "", ErrUnauthorized
	}

	started := time.Now()
	reply, err := cmd.handler(ctx, req)
	d.logger.InfoContext(
		ctx,
		"dispatched command",
		"command", name,
		"user_id", req.User.ID,
		"duration", time.Since(started),
		"error", err != nil,
	)
	return reply, err
}

// registerCommands wires the bot's command surface into the dispatcher.
func (b *Bot) registerCommands(d *CommandDispatcher) {
	d.Register(&Command{
		Name:        CommandPing,
		Description: "Check if ARAYA is alive",
		handler:     b.handlePing,
	})
	d.Register(&Command{
		Name:        CommandStatus,
		Description: "Check ARAYA's systems",
		handler:     b.handleStatus,
	})
	d.Register(&Command{
		Name:        CommandLevel,
		Description: "Check your level and XP",
		handler:     b.handleLevel,
	})
	d.Register(&Command{
		Name:        CommandLeaderboard,
		Description: "See top builders",
		handler:     b.handleLeaderboard,
	})
	d.Register(&Command{
		Name:          CommandGiveXP,
		Description:   "Give XP to a user (mod only)",
		ModeratorOnly: true,
		handler:       b.handleGiveXP,
	})
	d.Register(&Command{
		Name:        CommandHelp,
		Description: "Show help",
		handler:     b.handleHelp,
	})
}

func (b *Bot) handlePing(_ context.Context, _ CommandRequest) (string, error) {
	latency := b.discord.heartbeatLatency()
	return fmt.Sprintf("Pong! Latency: %dms", latency.Milliseconds()), nil
}

func (b *Bot) handleStatus(ctx context.Context, _ CommandRequest) (string, error) {
	if err := b.arayaClient.Health(ctx); err != nil {
		return "ARAYA's brain (API) is not responding.", nil
	}
	return "ARAYA's brain is online and healthy!", nil
}

func (b *Bot) handleLevel(ctx context.Context, req CommandRequest) (string, error) {
	record, created, err := b.ledger.GetProgress(ctx, req.User)
	if err != nil {
		return "", err
	}
	if created {
		return fmt.Sprintf(
			"Welcome %s! You're now registered at Level 0 (LOBBY).\n"+
				"Head to #verification to answer questions and level up!",
			req.User.Username,
		), nil
	}

	def := b.levels.Definition(record.Level)
	next := "MAX"
	if threshold, ok := b.levels.NextThreshold(record.Level); ok {
		next = strconv.FormatInt(threshold, 10)
	}
	return fmt.Sprintf(
		"**%s's Status**\n"+
			"Level: **%d - %s** (%s)\n"+
			"XP: **%d** / %s\n"+
			"Builder Score: **%.0f%%**\n"+
			"Status: %s",
		req.User.Username,
		int(record.Level),
		def.Name,
		def.Title,
		record.XP,
		next,
		record.BuilderScore*100,
		record.VerificationStatus,
	), nil
}

func (b *Bot) handleLeaderboard(ctx context.Context, _ CommandRequest) (string, error) {
	records, err := b.ledger.TopN(ctx, 10)
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "No builders registered yet!", nil
	}

	var sb strings.Builder
	sb.WriteString("**TOP BUILDERS**\n\n")
	for i, record := range records {
		def := b.levels.Definition(record.Level)
		fmt.Fprintf(
			&sb,
			"%d. **%s** - %d XP (%s)\n",
			i+1,
			record.Username,
			record.XP,
			def.Name,
		)
	}
	return sb.String(), nil
}

func (b *Bot) handleGiveXP(ctx context.Context, req CommandRequest) (string, error) {
	if len(req.Args) < 2 {
		return "Usage: `!give_xp @user <amount> [reason]`", nil
	}

	target, ok := resolveTarget(req.Args[0], req.Mentions)
	if !ok {
		return "User not found!", nil
	}

	amount, err := strconv.ParseInt(req.Args[1], 10, 64)
	if err != nil {
		return fmt.Sprintf("%q doesn't look like an XP amount.", req.Args[1]), nil
	}

	reason := "manual award"
	if len(req.Args) > 2 {
		reason = strings.Join(req.Args[2:], " ")
	}

	// Ensure the target has a ledger record before awarding
	if target.Username != "" {
		if _, _, err := b.ledger.GetProgress(ctx, target); err != nil {
			return "", err
		}
	}

	award := NewXPAward(req.User.ID, target.ID, amount, fmt.Sprintf("Manual: %s", reason))
	result, err := b.ledger.ApplyAward(ctx, award)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "User not found!", nil
	case errors.Is(err, ErrInvalidAmount):
		return fmt.Sprintf(
			"Can't apply that award: XP can't go negative, and a single award is capped at %d.",
			MaxAwardAmount,
		), nil
	case err != nil:
		return "", err
	}

	username := target.Username
	if username == "" {
		username = result.Progress.Username
	}
	reply := fmt.Sprintf(
		"Gave **%d XP** to %s! Total: %d XP",
		amount,
		username,
		result.Progress.XP,
	)
	if result.LevelUp != nil {
		b.notifier.ProgressUpdated(ctx, target.ID)
		reply = fmt.Sprintf(
			"%s\n%s",
			reply,
			b.levels.levelUpMessage(username, result.LevelUp.To),
		)
	}
	return reply, nil
}

func (b *Bot) handleHelp(_ context.Context, _ CommandRequest) (string, error) {
	return `**ARAYA Discord Commands**

**Talk to me:**
- @ARAYA [your message]
- Just say "araya" anywhere in your message

**Commands:**
- ` + "`!ping`" + ` - Check if I'm alive
- ` + "`!status`" + ` - Check my brain status
- ` + "`!level`" + ` - Check your level and XP
- ` + "`!leaderboard`" + ` - See top builders
- ` + "`!help_araya`" + ` - This message

**About me:**
I'm ARAYA - Autonomous Reality Alignment & Yielding Agent.
My brain contains 127,500+ atoms of knowledge.

*Created by the Consciousness Revolution team.*`, nil
}

// resolveTarget turns a mention-style argument (<@123> or <@!123>) or a
// raw user ID into a discord user, preferring the message's mention list
// so the username is available for replies.
func resolveTarget(arg string, mentions []*discordgo.User) (discordgo.User, bool) {
	id := strings.TrimSuffix(arg, ">")
	id = strings.TrimPrefix(id, "<@")
	id = strings.TrimPrefix(id, "!")
	if id == "" {
		return discordgo.User{}, false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return discordgo.User{}, false
		}
	}
	for _, mention := range mentions {
		if mention != nil && mention.ID == id {
			return *mention, true
		}
	}
	return discordgo.User{ID: id}, true
}
