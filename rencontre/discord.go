package rencontre

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"net/http"
	"sync/atomic"
)

const (
	// discordThreadAutoArchiveMinutes is the inactivity delay after which
	// discord archives a speed dating thread on its own
	discordThreadAutoArchiveMinutes = 60

	discordModalInputMaxLength = 300
)

// Discord manages the discord session: gateway handlers, slash command
// registration and the REST calls made by the bot.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	connected                   atomic.Bool
	botUserID                   atomic.Value
	discordgoRemoveHandlerFuncs []func()
}

func newDiscord(config *DiscordConfig, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		config:                      config,
		logger:                      logger,
		discordgoRemoveHandlerFuncs: []func(){},
	}
}

// newSession creates the discordgo session. Events are dispatched in
// order on one goroutine. State tracking is disabled, members and
// channels are fetched when needed.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{logger: d.logger.With(loggerNameKey, "discord_session_handler")}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = false
	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}

	if d.config.DiscordGoLogLevel != nil {
		if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
			return session, err
		}
	}
	return session, nil
}

// BotUserID returns the bot's own user ID, once the gateway is ready
func (d *Discord) BotUserID() string {
	v, _ := d.botUserID.Load().(string)
	return v
}

func (d *Discord) handlerReady(onReady func(r *discordgo.Ready)) func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(_ *discordgo.Session, r *discordgo.Ready) {
		var userID, username string
		if r.User != nil {
			userID = r.User.ID
			username = r.User.Username
			d.botUserID.Store(userID)
		}
		d.logger.Info(
			"ready",
			"session_id", r.SessionID,
			slog.Group("user", "id", userID, "username", username),
			"guilds", len(r.Guilds),
		)
		if onReady != nil {
			onReady(r)
		}
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(_ *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		d.logger.Info("connected", "connects", d.metricConnects.Load())
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)
		d.logger.Warn("disconnected", "disconnects", d.metricDisconnects.Load())
	}
}

// registerCommands sends the bot's commands to the discord bulk overwrite
// endpoint, scoped to the configured guild
func (d *Discord) registerCommands(
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		appCommands(),
		options...,
	)
	if err != nil {
		return created, fmt.Errorf("error overwriting discord commands: %w", err)
	}
	if len(created) == 0 {
		return created, errors.New("no commands created")
	}
	return created, nil
}

// sendDirectMessage opens (or reuses) the DM channel with the user and
// sends the message to it
func (d *Discord) sendDirectMessage(
	ctx context.Context,
	userID string,
	data *discordgo.MessageSend,
) (*discordgo.Message, error) {
	ch, err := d.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, collaboratorErr("create_dm_channel", userID, err)
	}
	msg, err := d.session.ChannelMessageSendComplex(ch.ID, data, discordgo.WithContext(ctx))
	if err != nil {
		return nil, collaboratorErr("send_direct_message", userID, err)
	}
	return msg, nil
}

// guildMember fetches a member of the configured guild
func (d *Discord) guildMember(ctx context.Context, userID string) (*discordgo.Member, error) {
	m, err := d.session.GuildMember(d.config.GuildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, collaboratorErr("get_guild_member", userID, err)
	}
	return m, nil
}

func (d *Discord) addAccessRole(ctx context.Context, userID string) error {
	if d.config.AccessRoleID == "" {
		return nil
	}
	return collaboratorErr(
		"add_access_role",
		userID,
		d.session.GuildMemberRoleAdd(
			d.config.GuildID,
			userID,
			d.config.AccessRoleID,
			discordgo.WithContext(ctx),
			discordgo.WithAuditLogReason("Profil Rencontre validé"),
		),
	)
}

func (d *Discord) removeAccessRole(ctx context.Context, userID string) error {
	if d.config.AccessRoleID == "" {
		return nil
	}
	return collaboratorErr(
		"remove_access_role",
		userID,
		d.session.GuildMemberRoleRemove(
			d.config.GuildID,
			userID,
			d.config.AccessRoleID,
			discordgo.WithContext(ctx),
			discordgo.WithAuditLogReason("Suppression du profil Rencontre"),
		),
	)
}

// memberDisplayName returns the member's server nickname, falling back
// to their global display name, then their username
func memberDisplayName(m *discordgo.Member) string {
	if m == nil {
		return ""
	}
	if m.Nick != "" {
		return m.Nick
	}
	return userDisplayName(m.User)
}

func userDisplayName(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// getDiscordUser returns the [discordgo.User] associated with the interaction.
// Guild interactions carry it on the member, DM interactions on the
// interaction itself.
func getDiscordUser(i *discordgo.InteractionCreate) *discordgo.User {
	u := i.User
	if u == nil && i.Member != nil {
		u = i.Member.User
	}
	return u
}

// memberHasPermission reports whether the interaction's member has the
// given permission, or is an administrator
func memberHasPermission(m *discordgo.Member, permission int64) bool {
	if m == nil {
		return false
	}
	if m.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return m.Permissions&permission != 0
}

// discordConversations implements Conversations with private threads
// in a text channel
type discordConversations struct {
	session DiscordSessionHandler
}

func (c discordConversations) CreateConversation(
	ctx context.Context,
	parentID string,
	name string,
) (ConversationRef, error) {
	if parentID == "" {
		return ConversationRef{}, errors.New("no parent channel")
	}
	th, err := c.session.ThreadStartComplex(
		parentID,
		&discordgo.ThreadStart{
			Name:                name,
			AutoArchiveDuration: discordThreadAutoArchiveMinutes,
			Type:                discordgo.ChannelTypeGuildPrivateThread,
			Invitable:           false,
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return ConversationRef{}, err
	}
	return ConversationRef{ID: th.ID, Name: th.Name, ParentID: parentID}, nil
}

func (c discordConversations) AddParticipant(
	ctx context.Context,
	ref ConversationRef,
	userID string,
) error {
	return c.session.ThreadMemberAdd(ref.ID, userID, discordgo.WithContext(ctx))
}

func (c discordConversations) Send(ctx context.Context, ref ConversationRef, content string) error {
	_, err := c.session.ChannelMessageSend(ref.ID, content, discordgo.WithContext(ctx))
	return err
}

func (c discordConversations) Close(ctx context.Context, ref ConversationRef, del bool) error {
	if del {
		_, err := c.session.ChannelDelete(ref.ID, discordgo.WithContext(ctx))
		return err
	}
	archived := true
	locked := true
	_, err := c.session.ChannelEdit(
		ref.ID,
		&discordgo.ChannelEdit{Archived: &archived, Locked: &locked},
		discordgo.WithContext(ctx),
	)
	return err
}

// DiscordSessionHandler defines the methods of `discordgo.Session` used
// by the bot, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// SetIdentify sets the identify object that's sent during the initial
	// handshake with the discord gateway
	SetIdentify(discordgo.Identify)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error

	SetHTTPClient(client *http.Client)

	// UpdateCustomStatus sets the bot's user status to the given string.
	UpdateCustomStatus(status string) error

	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	FollowupMessageCreate(
		interaction *discordgo.Interaction,
		wait bool,
		data *discordgo.WebhookParams,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessage(
		channelID string,
		messageID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageSend(
		channelID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageEditComplex(
		m *discordgo.MessageEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageDelete(
		channelID string,
		messageID string,
		options ...discordgo.RequestOption,
	) error

	// UserChannelCreate returns the DM channel with the given user
	UserChannelCreate(
		recipientID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	ThreadStartComplex(
		channelID string,
		data *discordgo.ThreadStart,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	ThreadMemberAdd(
		threadID string,
		memberID string,
		options ...discordgo.RequestOption,
	) error

	ChannelEdit(
		channelID string,
		data *discordgo.ChannelEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	ChannelDelete(
		channelID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	GuildMember(
		guildID string,
		userID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Member, error)

	GuildMemberRoleAdd(
		guildID string,
		userID string,
		roleID string,
		options ...discordgo.RequestOption,
	) error

	GuildMemberRoleRemove(
		guildID string,
		userID string,
		roleID string,
		options ...discordgo.RequestOption,
	) error
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

func (d DiscordSession) SetIdentify(i discordgo.Identify) {
	d.session.Identify = i
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

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(appID, guildID, commands, options...)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("created command", "command", c.Name, "id", c.ID)
	}
	return created, nil
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) FollowupMessageCreate(
	interaction *discordgo.Interaction,
	wait bool,
	data *discordgo.WebhookParams,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.FollowupMessageCreate(interaction, wait, data, options...)
}

func (d DiscordSession) ChannelMessage(
	channelID string,
	messageID string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessage(channelID, messageID, options...)
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, content, options...)
}

func (d DiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSendComplex(channelID, data, options...)
}

func (d DiscordSession) ChannelMessageEditComplex(
	m *discordgo.MessageEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageEditComplex(m, options...)
}

func (d DiscordSession) ChannelMessageDelete(
	channelID string,
	messageID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.ChannelMessageDelete(channelID, messageID, options...)
}

func (d DiscordSession) UserChannelCreate(
	recipientID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.UserChannelCreate(recipientID, options...)
}

func (d DiscordSession) ThreadStartComplex(
	channelID string,
	data *discordgo.ThreadStart,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	th, err := d.session.ThreadStartComplex(channelID, data, options...)
	if err != nil {
		d.logger.Error("error starting thread", tint.Err(err), "channel_id", channelID)
	}
	return th, err
}

func (d DiscordSession) ThreadMemberAdd(
	threadID string,
	memberID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.ThreadMemberAdd(threadID, memberID, options...)
}

func (d DiscordSession) ChannelEdit(
	channelID string,
	data *discordgo.ChannelEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.ChannelEdit(channelID, data, options...)
}

func (d DiscordSession) ChannelDelete(
	channelID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.ChannelDelete(channelID, options...)
}

func (d DiscordSession) GuildMember(
	guildID string,
	userID string,
	options ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	return d.session.GuildMember(guildID, userID, options...)
}

func (d DiscordSession) GuildMemberRoleAdd(
	guildID string,
	userID string,
	roleID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildMemberRoleAdd(guildID, userID, roleID, options...)
}

func (d DiscordSession) GuildMemberRoleRemove(
	guildID string,
	userID string,
	roleID string,
	options ...discordgo.RequestOption,
) error {
	return d.session.GuildMemberRoleRemove(guildID, userID, roleID, options...)
}
