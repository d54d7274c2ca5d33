package araya

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
)

func newTestDB(t testing.TB) DBI {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.sqlite3")
	db, err := CreateDB(context.Background(), dbTypeSQLite, dbPath)
	require.NoError(t, err)
	return NewDatabase(db, slog.Default(), false)
}

func newTestLedger(t testing.TB) *XPLedger {
	t.Helper()
	return NewXPLedger(newTestDB(t), NewLevelTable(), slog.Default())
}

// newTestBot assembles a bot over a temp sqlite database with a mock
// discord session, and drains the progress refresh channel so notifier
// sends never block.
func newTestBot(t testing.TB) (*Bot, *mockDiscordSession) {
	t.Helper()

	config := DefaultConfig()
	config.Discord.Token = "test-token"
	config.Database = filepath.Join(t.TempDir(), "test.sqlite3")

	bot, err := New(config)
	require.NoError(t, err)

	require.NoError(t, bot.initDB(context.Background()))

	notifier, err := newDBNotifier(bot)
	require.NoError(t, err)
	bot.notifier = notifier
	bot.signalStop = make(chan struct{}, 1)

	session := &mockDiscordSession{permissions: 0}
	bot.discord.session = session

	ctx, cancel := context.WithCancel(context.Background())
	go bot.watchProgressRefresh(ctx)
	t.Cleanup(cancel)

	return bot, session
}

type sentMessage struct {
	ChannelID string
	Content   string
	Reply     bool
}

// mockDiscordSession records outbound calls in place of a live gateway
// connection.
type mockDiscordSession struct {
	mu          sync.Mutex
	sent        []sentMessage
	typing      []string
	permissions int64
	permErr     error
}

var _ DiscordSessionHandler = (*mockDiscordSession)(nil)

func (m *mockDiscordSession) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockDiscordSession) Open() error  { return nil }
func (m *mockDiscordSession) Close() error { return nil }

func (m *mockDiscordSession) AddHandler(any) func() {
	return func() {}
}

func (m *mockDiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{ChannelID: channelID, Content: message})
	return &discordgo.Message{ChannelID: channelID, Content: message}, nil
}

func (m *mockDiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	_ *discordgo.MessageReference,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{ChannelID: channelID, Content: content, Reply: true})
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (m *mockDiscordSession) ChannelTyping(
	channelID string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing = append(m.typing, channelID)
	return nil
}

func (m *mockDiscordSession) UpdateCustomStatus(string) error { return nil }

func (m *mockDiscordSession) UserChannelPermissions(
	string,
	string,
	...discordgo.RequestOption,
) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permissions, m.permErr
}

func (m *mockDiscordSession) HeartbeatLatency() time.Duration {
	return 42 * time.Millisecond
}

func (m *mockDiscordSession) SetHTTPClient(*http.Client) {}

func (m *mockDiscordSession) SetLogLevel(slog.Level) error { return nil }

func testUser(id string, username string) discordgo.User {
	return discordgo.User{ID: id, Username: username, GlobalName: username}
}
