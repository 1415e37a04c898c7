package rencontre

import (
	"context"
	"errors"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

// newTestRencontre returns a bot backed by a temporary SQLite database
// and a mock discord session. Interactions are answered by a
// stubInteractionHandler.
func newTestRencontre(t testing.TB) (*Rencontre, *mockDiscordSession) {
	t.Helper()
	return newTestRencontreWithConfig(t, DefaultTestConfig(t))
}

func newTestRencontreWithConfig(t testing.TB, cfg *Config) (*Rencontre, *mockDiscordSession) {
	t.Helper()

	r, err := New(cfg)
	require.NoError(t, err)

	session := newMockDiscordSession()
	r.discord.session = session
	r.logger = r.logger.With("test", t.Name())

	ctx := context.Background()
	require.NoError(t, r.initRun(ctx))
	t.Cleanup(
		func() {
			_ = r.scheduler.CloseAll(context.Background())
			if r.db != nil {
				sqlDB, _ := r.db.DB()
				if sqlDB != nil {
					_ = sqlDB.Close()
				}
			}
		},
	)

	r.getInteractionHandlerFunc = func(
		_ context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler {
		return newStubInteractionHandler(t, i)
	}
	return r, session
}

// runInteraction handles the interaction synchronously and returns the
// handler holding the bot's responses
func runInteraction(
	t testing.TB,
	r *Rencontre,
	i *discordgo.InteractionCreate,
) *stubInteractionHandler {
	t.Helper()
	handler := newStubInteractionHandler(t, i)
	r.handleInteraction(context.Background(), handler)
	return handler
}

// registeredHandler returns the first gateway handler of type T
func registeredHandler[T any](t testing.TB, session *mockDiscordSession) T {
	t.Helper()
	session.mu.Lock()
	defer session.mu.Unlock()
	for _, h := range session.handlers {
		if f, ok := h.(T); ok {
			return f
		}
	}
	var zero T
	t.Fatalf("no handler of type %T registered", zero)
	return zero
}

func TestRencontre_New_InvalidDatabaseType(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.DatabaseType = "mysql"
	_, err := New(cfg)
	require.Error(t, err)
	require.ErrorContains(t, err, "invalid database type")
}

func TestRencontre_Run(t *testing.T) {
	r, session := newTestRencontre(t)
	session.addMember("1", "Léa")
	session.addMember("2", "Noé")

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	runErr := make(chan error, 1)
	go func() {
		runErr <- r.Run(ctx)
	}()

	select {
	case <-r.signalReady:
	case err := <-runErr:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for ready signal")
	}

	session.mu.Lock()
	assert.True(t, session.opened)
	assert.Len(t, session.commands, len(appCommands()))
	assert.Equal(t, r.config.Discord.GatewayIntents, session.identify.Intents)
	session.mu.Unlock()
	assert.Equal(t, 6, session.handlerCount())

	// READY posts the welcome panel and sets the status
	onReady := registeredHandler[func(*discordgo.Session, *discordgo.Ready)](t, session)
	onReady(nil, &discordgo.Ready{User: &discordgo.User{ID: "bot"}})
	require.Eventually(
		t,
		func() bool { return len(session.messagesIn(testChannelWelcome)) == 1 },
		5*time.Second,
		10*time.Millisecond,
	)
	require.Eventually(
		t,
		func() bool {
			session.mu.Lock()
			defer session.mu.Unlock()
			return session.customStatus == DefaultDiscordCustomStatus
		},
		5*time.Second,
		10*time.Millisecond,
	)

	// in-flight runs are closed on shutdown
	event, err := r.scheduler.Start(
		ctx, RunRequest{
			Roster:   []string{"1", "2"},
			ParentID: testChannelSpeed,
			Delete:   true,
		},
	)
	require.NoError(t, err)
	require.Len(t, event.Conversations, 1)

	cancel()
	select {
	case err = <-runErr:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for shutdown")
	}

	assert.True(t, session.isClosed())
	assert.Equal(t, 0, session.handlerCount())
	assert.Empty(t, r.scheduler.InFlight())
	assert.Equal(t, []string{event.Conversations[0].ID}, session.channelsGone)

	records, err := r.store.ListSpeedEvents(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, event.SessionID, records[0].SessionID)
}

func TestRencontre_RunStopSignal(t *testing.T) {
	r, _ := newTestRencontre(t)

	runErr := make(chan error, 1)
	go func() {
		runErr <- r.Run(context.Background())
	}()

	select {
	case <-r.signalReady:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for ready signal")
	}
	r.signalStop <- struct{}{}

	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for shutdown")
	}
	select {
	case <-r.eventShutdown:
	case <-time.After(5 * time.Second):
		t.Fatal("expected shutdown event")
	}
}

func TestRencontre_RunInvalidConfig(t *testing.T) {
	cfg := DefaultTestConfig(t)
	r, _ := newTestRencontreWithConfig(t, cfg)
	r.config.Discord.Token = ""
	require.Error(t, r.Run(context.Background()))
}

func TestRencontre_RunOpenFailure(t *testing.T) {
	r, session := newTestRencontre(t)
	session.failOpen = errors.New("gateway unavailable")
	err := r.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "gateway unavailable")
}

func TestRencontre_HandleMemberRemove(t *testing.T) {
	r, session := newTestRencontre(t)
	ctx := context.Background()
	member := session.addMember("1", "Léa")

	profile := &Profile{ModelUserID: ModelUserID{UserID: "1"}, Age: 25, Gender: GenderFemale}
	require.NoError(t, r.store.SetProfile(ctx, profile))
	ref, err := r.publishProfile(ctx, profile, "Léa")
	require.NoError(t, err)
	_, err = r.sessions.Start("1", SessionModeEdit, "")
	require.NoError(t, err)

	// another guild's event is ignored
	r.handleMemberRemove(
		ctx, &discordgo.GuildMemberRemove{
			Member: &discordgo.Member{GuildID: "other", User: member.User},
		},
	)
	_, err = r.store.GetProfile(ctx, "1")
	require.NoError(t, err)

	r.handleMemberRemove(
		ctx, &discordgo.GuildMemberRemove{
			Member: &discordgo.Member{GuildID: testGuildID, User: member.User},
		},
	)
	_, err = r.store.GetProfile(ctx, "1")
	require.ErrorIs(t, err, ErrProfileNotFound)
	assert.False(t, r.sessions.Active("1"))
	assert.Contains(t, session.deleted, ref.MessageID)
	assert.Equal(t, []string{"1"}, session.rolesRemoved)

	// departures aren't logged
	assert.Empty(t, session.messagesIn(testChannelLogs))
}
