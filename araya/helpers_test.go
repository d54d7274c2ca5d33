package araya

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkMessage(t *testing.T) {
	t.Parallel()

	assert.Nil(t, chunkMessage("", 10))
	assert.Equal(t, []string{"short"}, chunkMessage("short", 10))

	// splits prefer newline boundaries
	text := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	chunks := chunkMessage(text, 12)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 8)+"\n", chunks[0])
	assert.Equal(t, strings.Repeat("b", 8), chunks[1])

	// hard split without a usable newline
	chunks = chunkMessage(strings.Repeat("x", 25), 10)
	require.Len(t, chunks, 3)
	assert.Equal(t, 10, len(chunks[0]))
	assert.Equal(t, 10, len(chunks[1]))
	assert.Equal(t, 5, len(chunks[2]))

	// every chunk fits a discord message
	long := strings.Repeat("word word word\n", 500)
	for _, chunk := range chunkMessage(long, discordMaxMessageLength) {
		assert.LessOrEqual(t, len([]rune(chunk)), discordMaxMessageLength)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc", truncate("abcdef", 3))
	// rune-safe
	assert.Equal(t, "hél", truncate("héllo", 3))
}

func TestContextLogger(t *testing.T) {
	t.Parallel()

	_, ok := ContextLogger(context.Background())
	assert.False(t, ok)

	logger := slog.Default().With("test", "value")
	ctx := WithLogger(context.Background(), logger)
	got, ok := ContextLogger(ctx)
	require.True(t, ok)
	assert.Equal(t, logger, got)
}

func TestGenerateRandomHexString(t *testing.T) {
	t.Parallel()

	a, err := generateRandomHexString(16)
	require.NoError(t, err)
	assert.Len(t, a, 32)

	b, err := generateRandomHexString(16)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestStructToSlogValueRedaction(t *testing.T) {
	t.Parallel()

	type testStruct struct {
		Token string `json:"token" log:"[redacted]"`
		Name  string `json:"name"`
	}

	v := structToSlogValue(testStruct{Token: "secret-token", Name: "alice"})
	rendered := v.String()
	assert.NotContains(t, rendered, "secret-token")
	assert.Contains(t, rendered, "[redacted]")
	assert.Contains(t, rendered, "alice")
}
