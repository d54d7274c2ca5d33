package araya

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelTableEvaluate(t *testing.T) {
	t.Parallel()
	table := NewLevelTable()

	testCases := []struct {
		xp       int64
		expected Level
	}{
		{0, LevelLobby},
		{1, LevelLobby},
		{49, LevelLobby},
		{50, LevelSeedling},
		{199, LevelSeedling},
		{200, LevelSapling},
		{499, LevelSapling},
		{500, LevelTree},
		{999, LevelTree},
		{1000, LevelForest},
		{2499, LevelForest},
		{2500, LevelOracle},
		{999999, LevelOracle},
		{-5, LevelLobby},
	}
	for _, tc := range testCases {
		assert.Equalf(
			t,
			tc.expected,
			table.Evaluate(tc.xp),
			"xp=%d",
			tc.xp,
		)
	}
}

func TestLevelTableEvaluateMonotonic(t *testing.T) {
	t.Parallel()
	table := NewLevelTable()

	previous := LevelLobby
	for xp := int64(0); xp <= 3000; xp++ {
		level := table.Evaluate(xp)
		require.GreaterOrEqualf(t, level, previous, "xp=%d", xp)
		previous = level
	}
}

func TestLevelTableDefinitionClamped(t *testing.T) {
	t.Parallel()
	table := NewLevelTable()

	assert.Equal(t, "LOBBY", table.Definition(-3).Name)
	assert.Equal(t, "ORACLE", table.Definition(MaxLevel+10).Name)
	assert.Equal(t, "TREE", table.Definition(LevelTree).Name)
}

func TestLevelTableNextThreshold(t *testing.T) {
	t.Parallel()
	table := NewLevelTable()

	threshold, ok := table.NextThreshold(LevelLobby)
	require.True(t, ok)
	assert.Equal(t, int64(50), threshold)

	threshold, ok = table.NextThreshold(LevelForest)
	require.True(t, ok)
	assert.Equal(t, int64(2500), threshold)

	_, ok = table.NextThreshold(LevelOracle)
	assert.False(t, ok)
}

func TestLevelTableGrantsCumulative(t *testing.T) {
	t.Parallel()
	table := NewLevelTable()

	lobby := table.GrantsFor(LevelLobby)
	tree := table.GrantsFor(LevelTree)
	oracle := table.GrantsFor(LevelOracle)

	// higher tiers keep everything below them
	for _, channel := range lobby.Channels {
		assert.Contains(t, tree.Channels, channel)
		assert.Contains(t, oracle.Channels, channel)
	}
	for _, channel := range tree.Channels {
		assert.Contains(t, oracle.Channels, channel)
	}
	assert.Greater(t, len(oracle.Perks), len(lobby.Perks))
}

func TestDetectLevelUp(t *testing.T) {
	t.Parallel()

	event := DetectLevelUp(LevelLobby, LevelSeedling)
	require.NotNil(t, event)
	assert.Equal(t, LevelLobby, event.From)
	assert.Equal(t, LevelSeedling, event.To)

	// a jump over several tiers is still one event
	event = DetectLevelUp(LevelLobby, LevelForest)
	require.NotNil(t, event)
	assert.Equal(t, LevelForest, event.To)

	assert.Nil(t, DetectLevelUp(LevelTree, LevelTree))
	assert.Nil(t, DetectLevelUp(LevelTree, LevelSeedling))
}

func TestLevelUpMessage(t *testing.T) {
	t.Parallel()
	table := NewLevelTable()

	msg := table.levelUpMessage("alice", LevelSeedling)
	assert.Contains(t, msg, "alice")
	assert.Contains(t, msg, "SEEDLING")

	msg = table.levelUpMessage("bob", LevelOracle)
	assert.Contains(t, msg, "ORACLE")
}

func TestWelcomeMessage(t *testing.T) {
	t.Parallel()
	msg := welcomeMessage("carol")
	assert.True(t, strings.Contains(msg, "carol"))
}
