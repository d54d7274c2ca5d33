package araya

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

// nameKeyword triggers a relay to the ARAYA brain when it appears
// anywhere in a message, even without a mention.
const nameKeyword = "araya"

// Discord manages the gateway session: connecting, the message-create
// pipeline, and the utility calls the bot makes against the Discord API.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	metricMessagesHandled       atomic.Int64
	connected                   atomic.Bool
	discordgoRemoveHandlerFuncs []func()
	bot                         *Bot
}

// newDiscord initializes a new Discord instance with the provided configuration
func newDiscord(config *DiscordConfig) (*Discord, error) {
	if config.Token == "" {
		return nil, errors.New("discord token required")
	}
	return &Discord{
		config:                      config,
		discordgoRemoveHandlerFuncs: []func(){},
	}, nil
}

// newSession initializes a new Discord session for the Discord struct.
// It sets up the session with the appropriate logger, token, and intents.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{logger: d.logger.With(loggerNameKey, "discord_session_handler")}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = true
	disc.Identify.Intents = d.config.GatewayIntents
	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}

	err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level())
	if err != nil {
		return session, err
	}

	return session, nil
}

// channelMessageSend sends the given message to the given discord channel ID
func (d *Discord) channelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) error {
	_, err := d.session.ChannelMessageSend(channelID, message, opts...)
	return err
}

// sendChunked splits a long message at the Discord length limit, sending
// the first chunk as a reply to the originating message and the rest as
// plain channel messages.
func (d *Discord) sendChunked(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
) {
	for i, chunk := range chunkMessage(content, discordMaxMessageLength) {
		var err error
		if i == 0 && reference != nil {
			_, err = d.session.ChannelMessageSendReply(channelID, chunk, reference)
		} else {
			_, err = d.session.ChannelMessageSend(channelID, chunk)
		}
		if err != nil {
			d.logger.Error(
				"error sending message chunk",
				tint.Err(err),
				"channel_id", channelID,
				"chunk", i,
			)
			return
		}
	}
}

func (d *Discord) channelTyping(channelID string) {
	if err := d.session.ChannelTyping(channelID); err != nil {
		d.logger.Warn("error sending typing indicator", tint.Err(err), "channel_id", channelID)
	}
}

func (d *Discord) heartbeatLatency() time.Duration {
	return d.session.HeartbeatLatency()
}

// userHasManageMessages reports whether the user holds Manage Messages in
// the given channel. Errors fail closed.
func (d *Discord) userHasManageMessages(userID string, channelID string) bool {
	perms, err := d.session.UserChannelPermissions(userID, channelID)
	if err != nil {
		d.logger.Warn(
			"error checking channel permissions",
			tint.Err(err),
			columnUserID, userID,
			"channel_id", channelID,
		)
		return false
	}
	return perms&discordgo.PermissionManageMessages != 0
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, r *discordgo.Ready) {
		d.logger.Info(
			"Ready",
			"session_id", s.State.SessionID,
			columnUserID, s.State.User.ID,
			"username", s.State.User.Username,
		)
		if d.config.CustomStatus != "" {
			if err := d.updateCustomStatus(d.config.CustomStatus); err != nil {
				d.logger.Error("error setting custom status", tint.Err(err))
			}
		}
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		var sessionID string
		var userID string
		var username string

		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
			if s.State.User != nil {
				userID = s.State.User.ID
				username = s.State.User.Username
			}
		}
		d.logger.Info(
			"Connected",
			"session_id", sessionID,
			slog.Group("user", "id", userID, "username", username),
		)
		if d.config.NotificationChannelID != "" {
			if sendErr := d.channelMessageSend(
				d.config.NotificationChannelID,
				d.config.StartupMessage,
				discordgo.WithRetryOnRatelimit(false),
				discordgo.WithRestRetries(1),
			); sendErr != nil {
				d.logger.Error("unable to send startup message", tint.Err(sendErr))
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)

		var sessionID string
		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
		}
		d.logger.Info("disconnected", "session_id", sessionID)
	}
}

func (d *Discord) updateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

// handlerMessageCreate is the whole inbound pipeline: engagement XP and
// builder scoring for every human message, then either command dispatch
// or a relay to the ARAYA brain when the bot is addressed.
func (b *Bot) handlerMessageCreate() func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
			return
		}
		b.discord.metricMessagesHandled.Add(1)

		ctx := WithLogger(context.Background(), b.logger)

		name, args, isCommand := b.dispatcher.Parse(m.Content)
		if !isCommand {
			b.recordEngagement(ctx, m)
		}

		switch {
		case isCommand:
			b.runCommand(ctx, m, name, args)
		case b.addressesBot(s, m):
			b.relayToAraya(ctx, m)
		}
	}
}

// recordEngagement scores the message, folds the score into the author's
// builder average, and grants rate-limited engagement XP. A pending user
// posting a trusted social profile link also gets verified here.
func (b *Bot) recordEngagement(ctx context.Context, m *discordgo.MessageCreate) {
	record, created, err := b.ledger.GetProgress(ctx, *m.Author)
	if err != nil {
		b.logger.Error("error loading progress", tint.Err(err), columnUserID, m.Author.ID)
		return
	}
	if created {
		b.discord.sendChunked(m.ChannelID, welcomeMessage(m.Author.Username), m.Reference())
	}

	analysis := AnalyzeMessage(m.Content)
	if err := b.ledger.RecordAnalysis(ctx, m.Author.ID, analysis.BuilderScore); err != nil {
		b.logger.Error("error recording analysis", tint.Err(err), columnUserID, m.Author.ID)
	}

	if !record.SocialVerified && strings.Contains(m.Content, "http") {
		b.checkSocialVerification(ctx, m)
	}

	// zero interval disables message XP
	if b.config.XP.MessageXPInterval <= 0 {
		return
	}
	if !b.messageLimiter(m.Author.ID).Allow() {
		return
	}
	award := NewXPAward(b.engagementActorID(), m.Author.ID, XPRewards["message"], "message")
	result, err := b.ledger.ApplyAward(ctx, award)
	if err != nil {
		b.logger.Error("error awarding message XP", tint.Err(err), columnUserID, m.Author.ID)
		return
	}
	b.announceLevelUp(ctx, m.ChannelID, m.Author.Username, result)
}

// checkSocialVerification screens any URL in the message against the
// trusted domain list and, on the first valid link, verifies the user and
// grants the one-time reward.
func (b *Bot) checkSocialVerification(ctx context.Context, m *discordgo.MessageCreate) {
	var link string
	for _, field := range strings.Fields(m.Content) {
		if strings.HasPrefix(field, "http://") || strings.HasPrefix(field, "https://") {
			link = field
			break
		}
	}
	if link == "" {
		return
	}
	check := VerifySocialURL(link)
	if !check.IsValid {
		return
	}
	first, err := b.ledger.MarkSocialVerified(ctx, m.Author.ID, link)
	if err != nil {
		b.logger.Error("error marking social verified", tint.Err(err), columnUserID, m.Author.ID)
		return
	}
	if !first {
		return
	}
	award := NewXPAward(
		b.engagementActorID(),
		m.Author.ID,
		XPRewards["social_verified"],
		"social_verified",
	)
	result, err := b.ledger.ApplyAward(ctx, award)
	if err != nil {
		b.logger.Error("error awarding verification XP", tint.Err(err), columnUserID, m.Author.ID)
		return
	}
	b.discord.sendChunked(
		m.ChannelID,
		fmt.Sprintf(
			"Social profile verified for %s! +%d XP (a human will still review it)",
			m.Author.Username,
			XPRewards["social_verified"],
		),
		m.Reference(),
	)
	b.announceLevelUp(ctx, m.ChannelID, m.Author.Username, result)
}

func (b *Bot) announceLevelUp(
	ctx context.Context,
	channelID string,
	username string,
	result *AwardResult,
) {
	if result == nil || result.LevelUp == nil {
		return
	}
	b.notifier.ProgressUpdated(ctx, result.Progress.ID)
	b.discord.sendChunked(
		channelID,
		b.levels.levelUpMessage(username, result.LevelUp.To),
		nil,
	)
}

func (b *Bot) runCommand(
	ctx context.Context,
	m *discordgo.MessageCreate,
	name string,
	args []string,
) {
	req := CommandRequest{
		User:      *m.Author,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Args:      args,
		Mentions:  m.Mentions,
		Moderator: b.discord.userHasManageMessages(m.Author.ID, m.ChannelID),
	}

	reply, err := b.dispatcher.Dispatch(ctx, name, req)
	switch {
	case errors.Is(err, ErrUnauthorized):
		reply = "Only moderators can give XP!"
	case errors.Is(err, ErrStoreUnavailable):
		reply = "My memory is acting up. Try again in a moment."
	case err != nil:
		b.logger.Error("command failed", tint.Err(err), "command", name)
		reply = "Something went wrong running that command."
	}
	if reply != "" {
		b.discord.sendChunked(m.ChannelID, reply, m.Reference())
	}
}

// addressesBot reports whether the message mentions the bot user or says
// the bot's name.
func (b *Bot) addressesBot(s *discordgo.Session, m *discordgo.MessageCreate) bool {
	if s.State != nil && s.State.User != nil {
		for _, mention := range m.Mentions {
			if mention.ID == s.State.User.ID {
				return true
			}
		}
	}
	return strings.Contains(strings.ToLower(m.Content), nameKeyword)
}

// relayToAraya forwards the message to the ARAYA brain along with recent
// channel context, falling back to canned responses when the brain is
// unreachable.
func (b *Bot) relayToAraya(ctx context.Context, m *discordgo.MessageCreate) {
	b.discord.channelTyping(m.ChannelID)

	question := b.stripBotMention(m.Content)
	b.appendHistory(m.ChannelID, m.Author.Username, question)

	response, err := b.arayaClient.Chat(
		ctx,
		ChatRelayRequest{
			Message: question,
			UserID:  m.Author.ID,
			Context: b.historyContext(m.ChannelID),
		},
	)
	reply := fallbackResponse(question)
	if err != nil {
		b.logger.Warn("brain unreachable, using fallback", tint.Err(err))
	} else if response.Response != "" {
		reply = response.Response
	}

	b.appendHistory(m.ChannelID, "ARAYA", reply)
	b.discord.sendChunked(m.ChannelID, reply, m.Reference())
}

// stripBotMention removes the bot's own mention tokens from the message
// so the brain sees only the question.
func (b *Bot) stripBotMention(content string) string {
	botID := b.discord.botUserID()
	if botID != "" {
		content = strings.ReplaceAll(content, "<@"+botID+">", "")
		content = strings.ReplaceAll(content, "<@!"+botID+">", "")
	}
	return strings.TrimSpace(content)
}

func (d *Discord) botUserID() string {
	ds, ok := d.session.(DiscordSession)
	if !ok || ds.session == nil || ds.session.State == nil || ds.session.State.User == nil {
		return ""
	}
	return ds.session.State.User.ID
}

// channelHistory is a bounded per-channel transcript used as relay
// context. Only the most recent entries are kept.
type channelHistory struct {
	mu       sync.Mutex
	keep     int
	send     int
	channels map[string][]string
}

func newChannelHistory(keep int, send int) *channelHistory {
	return &channelHistory{
		keep:     keep,
		send:     send,
		channels: map[string][]string{},
	}
}

func (h *channelHistory) append(channelID string, author string, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries := append(h.channels[channelID], fmt.Sprintf("%s: %s", author, content))
	if len(entries) > h.keep {
		entries = entries[len(entries)-h.keep:]
	}
	h.channels[channelID] = entries
}

// context returns the most recent entries for a channel, oldest first,
// joined into one block.
func (h *channelHistory) context(channelID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries := h.channels[channelID]
	if len(entries) > h.send {
		entries = entries[len(entries)-h.send:]
	}
	return strings.Join(entries, "\n")
}

func (b *Bot) appendHistory(channelID string, author string, content string) {
	b.history.append(channelID, author, content)
}

func (b *Bot) historyContext(channelID string) string {
	return b.history.context(channelID)
}

// messageLimiter returns the per-user limiter gating engagement XP, one
// token per configured interval.
func (b *Bot) messageLimiter(userID string) *rate.Limiter {
	b.limiterMu.Lock()
	defer b.limiterMu.Unlock()
	limiter, ok := b.messageLimiters[userID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(b.config.XP.MessageXPInterval), 1)
		b.messageLimiters[userID] = limiter
	}
	return limiter
}

func (b *Bot) engagementActorID() string {
	if id := b.discord.botUserID(); id != "" {
		return id
	}
	return "araya"
}

// DiscordSessionHandler defines the interface for handling Discord
// sessions. This is basically the subset of `discordgo.Session` methods
// used in this application, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// ChannelMessageSend sends a message to the given channel
	ChannelMessageSend(
		channelID string,
		message string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendReply sends a message to the given channel, as a
	// reply to the referenced message
	ChannelMessageSendReply(
		channelID string,
		content string,
		reference *discordgo.MessageReference,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelTyping shows a typing indicator in the given channel
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error

	// UpdateCustomStatus sets the bot's user status to the given string.
	// If empty, sets the bot user to active and removes any existing
	// custom status.
	UpdateCustomStatus(status string) error

	// UserChannelPermissions returns the effective permissions of the
	// given user in the given channel
	UserChannelPermissions(
		userID string,
		channelID string,
		fetchOptions ...discordgo.RequestOption,
	) (int64, error)

	// HeartbeatLatency returns the round-trip time to the gateway
	HeartbeatLatency() time.Duration

	// SetHTTPClient sets the HTTP client for the session
	SetHTTPClient(client *http.Client)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, message, opts...)
}

func (d DiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendReply(
		channelID, content, reference, options...,
	)
	if err != nil {
		d.logger.Error(
			"error sending message reply",
			tint.Err(err),
			"channel_id", channelID,
			"content", content,
		)
	}
	return msg, err
}

func (d DiscordSession) ChannelTyping(
	channelID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.ChannelTyping(channelID, options...)
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) UserChannelPermissions(
	userID string,
	channelID string,
	fetchOptions ...discordgo.RequestOption,
) (int64, error) {
	return d.session.UserChannelPermissions(userID, channelID, fetchOptions...)
}

func (d DiscordSession) HeartbeatLatency() time.Duration {
	return d.session.HeartbeatLatency()
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}
