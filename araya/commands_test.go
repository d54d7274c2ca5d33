package araya

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherParse(t *testing.T) {
	t.Parallel()
	d := NewCommandDispatcher("!", slog.Default())
	d.Register(&Command{Name: "level"})
	d.Register(&Command{Name: "give_xp", ModeratorOnly: true})

	name, args, ok := d.Parse("!level")
	require.True(t, ok)
	assert.Equal(t, "level", name)
	assert.Empty(t, args)

	name, args, ok = d.Parse("  !give_xp <@123> 50 being helpful  ")
	require.True(t, ok)
	assert.Equal(t, "give_xp", name)
	assert.Equal(t, []string{"<@123>", "50", "being", "helpful"}, args)

	// case-insensitive command names
	name, _, ok = d.Parse("!LEVEL")
	require.True(t, ok)
	assert.Equal(t, "level", name)

	_, _, ok = d.Parse("plain message")
	assert.False(t, ok)

	_, _, ok = d.Parse("!unknown")
	assert.False(t, ok)

	_, _, ok = d.Parse("!")
	assert.False(t, ok)
}

func TestDispatcherModeratorGate(t *testing.T) {
	t.Parallel()
	d := NewCommandDispatcher("!", slog.Default())

	handlerCalled := false
	d.Register(
		&Command{
			Name:          "give_xp",
			ModeratorOnly: true,
			handler: func(context.Context, CommandRequest) (string, error) {
				handlerCalled = true
				return "ok", nil
			},
		},
	)

	_, err := d.Dispatch(
		context.Background(),
		"give_xp",
		CommandRequest{User: testUser("1", "alice"), Moderator: false},
	)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, handlerCalled)

	reply, err := d.Dispatch(
		context.Background(),
		"give_xp",
		CommandRequest{User: testUser("1", "alice"), Moderator: true},
	)
	require.NoError(t, err)
	assert.True(t, handlerCalled)
	assert.Equal(t, "ok", reply)
}

func TestResolveTarget(t *testing.T) {
	t.Parallel()
	mentions := []*discordgo.User{
		{ID: "123", Username: "bob"},
	}

	target, ok := resolveTarget("<@123>", mentions)
	require.True(t, ok)
	assert.Equal(t, "bob", target.Username)

	target, ok = resolveTarget("<@!123>", mentions)
	require.True(t, ok)
	assert.Equal(t, "123", target.ID)

	// raw ID with no matching mention
	target, ok = resolveTarget("456", mentions)
	require.True(t, ok)
	assert.Equal(t, "456", target.ID)
	assert.Empty(t, target.Username)

	_, ok = resolveTarget("notanid", mentions)
	assert.False(t, ok)

	_, ok = resolveTarget("", mentions)
	assert.False(t, ok)
}

func TestHandleLevel(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	ctx := context.Background()
	req := CommandRequest{User: testUser("100", "alice"), ChannelID: "chan-1"}

	// first sight registers the user
	reply, err := bot.handleLevel(ctx, req)
	require.NoError(t, err)
	assert.Contains(t, reply, "Welcome alice!")

	_, err = bot.ledger.ApplyAward(ctx, NewXPAward("mod-1", "100", 60, "seed"))
	require.NoError(t, err)

	reply, err = bot.handleLevel(ctx, req)
	require.NoError(t, err)
	assert.Contains(t, reply, "SEEDLING")
	assert.Contains(t, reply, "**60** / 200")
}

func TestHandleLeaderboard(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	ctx := context.Background()

	reply, err := bot.handleLeaderboard(ctx, CommandRequest{})
	require.NoError(t, err)
	assert.Equal(t, "No builders registered yet!", reply)

	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("%d", i)
		_, _, err = bot.ledger.GetProgress(ctx, testUser(id, "user-"+id))
		require.NoError(t, err)
		_, err = bot.ledger.ApplyAward(
			ctx,
			NewXPAward("mod-1", id, int64(i*100), "seed"),
		)
		require.NoError(t, err)
	}

	reply, err = bot.handleLeaderboard(ctx, CommandRequest{})
	require.NoError(t, err)
	assert.Contains(t, reply, "TOP BUILDERS")
	assert.Contains(t, reply, "1. **user-3** - 300 XP")
	assert.Contains(t, reply, "3. **user-1** - 100 XP")
}

func TestHandleGiveXP(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	ctx := context.Background()

	target := testUser("200", "bob")
	req := CommandRequest{
		User:      testUser("100", "mod"),
		ChannelID: "chan-1",
		Args:      []string{"<@200>", "50", "being", "helpful"},
		Mentions:  []*discordgo.User{{ID: "200", Username: "bob"}},
		Moderator: true,
	}

	reply, err := bot.handleGiveXP(ctx, req)
	require.NoError(t, err)
	assert.Contains(t, reply, "Gave **50 XP** to bob!")
	assert.Contains(t, reply, "Total: 50 XP")
	// crossed the 50 XP threshold
	assert.Contains(t, reply, "LEVEL UP!")

	record, _, err := bot.ledger.GetProgress(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, int64(50), record.XP)
	assert.Equal(t, LevelSeedling, record.Level)
}

func TestHandleGiveXPBadInput(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	ctx := context.Background()

	reply, err := bot.handleGiveXP(ctx, CommandRequest{Args: []string{"<@200>"}})
	require.NoError(t, err)
	assert.Contains(t, reply, "Usage:")

	reply, err = bot.handleGiveXP(
		ctx,
		CommandRequest{Args: []string{"nonsense", "50"}},
	)
	require.NoError(t, err)
	assert.Equal(t, "User not found!", reply)

	reply, err = bot.handleGiveXP(
		ctx,
		CommandRequest{
			Args:     []string{"<@200>", "lots"},
			Mentions: []*discordgo.User{{ID: "200", Username: "bob"}},
		},
	)
	require.NoError(t, err)
	assert.Contains(t, reply, "doesn't look like an XP amount")
}

func TestHandleGiveXPNegativeBalance(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	ctx := context.Background()

	req := CommandRequest{
		User:      testUser("100", "mod"),
		Args:      []string{"<@200>", "-50", "correction"},
		Mentions:  []*discordgo.User{{ID: "200", Username: "bob"}},
		Moderator: true,
	}

	reply, err := bot.handleGiveXP(ctx, req)
	require.NoError(t, err)
	assert.Contains(t, reply, "can't go negative")
}

func TestHandlePing(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)

	reply, err := bot.handlePing(context.Background(), CommandRequest{})
	require.NoError(t, err)
	assert.Equal(t, "Pong! Latency: 42ms", reply)
}

func TestHandleHelp(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)

	reply, err := bot.handleHelp(context.Background(), CommandRequest{})
	require.NoError(t, err)
	assert.Contains(t, reply, "!leaderboard")
	assert.Contains(t, reply, "ARAYA")
}
