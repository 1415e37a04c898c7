package rencontre

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
	"time"
)

func newAdmin(t testing.TB, userID string) *discordgo.Member {
	t.Helper()
	return newGuildMember(newDiscordUser(t, userID), discordgo.PermissionAdministrator)
}

func newMember(t testing.TB, userID string) *discordgo.Member {
	t.Helper()
	return newGuildMember(newDiscordUser(t, userID), 0)
}

func TestAppCommands(t *testing.T) {
	r, _ := newTestRencontre(t)
	handlers := r.commandHandlers()
	commands := appCommands()
	require.Len(t, commands, len(handlers))
	for _, cmd := range commands {
		assert.Contains(t, handlers, cmd.Name)
		assert.NotEmpty(t, cmd.Description, cmd.Name)
	}
}

func TestRencontre_HandleCommand_GuildOnly(t *testing.T) {
	r, _ := newTestRencontre(t)
	i := newCommandInteraction(t, nil, commandHelp)
	i.User = newDiscordUser(t, "1")
	i.GuildID = ""

	handler := runInteraction(t, r, i)
	assertEphemeral(t, handler.lastResponse(), msgGuildOnly)
}

func TestRencontre_HandleCommand_Unknown(t *testing.T) {
	r, _ := newTestRencontre(t)
	handler := runInteraction(t, r, newCommandInteraction(t, newMember(t, "1"), "nope"))
	assert.Nil(t, handler.lastResponse())
}

func TestRencontre_CommandSetCooldown(t *testing.T) {
	r, session := newTestRencontre(t)
	ctx := context.Background()

	handler := runInteraction(
		t, r,
		newCommandInteraction(
			t, newMember(t, "1"), commandSetCooldown,
			stringOption(optionType, setCooldownTypeLike),
			intOption(optionMinutes, 3),
		),
	)
	assertEphemeral(t, handler.lastResponse(), msgAdminOnly)

	handler = runInteraction(
		t, r,
		newCommandInteraction(
			t, newAdmin(t, "1"), commandSetCooldown,
			stringOption(optionType, "LIKE"),
			intOption(optionMinutes, 3),
		),
	)
	assertEphemeral(t, handler.lastResponse(), fmt.Sprintf(msgCooldownSet, setCooldownTypeLike, 3))

	handler = runInteraction(
		t, r,
		newCommandInteraction(
			t, newAdmin(t, "1"), commandSetCooldown,
			stringOption(optionType, setCooldownTypeMsg),
			intOption(optionMinutes, 0),
		),
	)
	assertEphemeral(t, handler.lastResponse(), fmt.Sprintf(msgCooldownSet, setCooldownTypeMsg, 1))

	settings, err := r.store.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, settings.LikeCooldown)
	assert.Equal(t, time.Minute, settings.ContactCooldown)
	assert.Equal(
		t,
		[]string{"📘 Configuration modifiée", "📘 Configuration modifiée"},
		session.embedTitles(testChannelLogs),
	)

	handler = runInteraction(
		t, r,
		newCommandInteraction(
			t, newAdmin(t, "1"), commandSetCooldown,
			stringOption(optionType, "pass"),
			intOption(optionMinutes, 3),
		),
	)
	assertEphemeral(t, handler.lastResponse(), msgInvalidCooldownType)
}

func TestRencontre_CommandStats(t *testing.T) {
	r, _ := newTestRencontre(t)
	ctx := context.Background()

	handler := runInteraction(t, r, newCommandInteraction(t, newMember(t, "1"), commandStats))
	assertEphemeral(t, handler.lastResponse(), msgAdminOnly)

	saveTestProfile(t, r, "2", GenderFemale)
	require.NoError(t, r.store.SetPublication(ctx, "2", testChannelWomen, "m1"))
	require.NoError(t, r.store.Ban(ctx, "3", "", "1"))

	handler = runInteraction(t, r, newCommandInteraction(t, newAdmin(t, "1"), commandStats))
	resp := handler.lastResponse()
	require.NotNil(t, resp)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	require.Len(t, resp.Data.Embeds, 1)
	fields := resp.Data.Embeds[0].Fields
	require.Len(t, fields, 3)
	assert.Contains(t, fields[0].Value, "Total : **1**")
	assert.Contains(t, fields[0].Value, "Publiés : **1**")
	assert.Contains(t, fields[0].Value, "Bannis : **1**")
	assert.Contains(t, fields[1].Value, "Like : **10 min**")
}

func TestRencontre_CommandBan(t *testing.T) {
	r, session := newTestRencontre(t)
	ctx := context.Background()
	session.addMember("2", "Maël")
	p := saveTestProfile(t, r, "2", GenderMale)
	ref, err := r.publishProfile(ctx, p, "Maël")
	require.NoError(t, err)
	_, err = r.store.AddToRoster(ctx, "2")
	require.NoError(t, err)
	_, err = r.sessions.Start("2", SessionModeEdit, "")
	require.NoError(t, err)

	handler := runInteraction(
		t, r,
		newCommandInteraction(t, newMember(t, "1"), commandBan, subcommandOption(subcommandAdd, userIDOption("2"))),
	)
	assertEphemeral(t, handler.lastResponse(), msgAdminOnly)

	i := newCommandInteraction(
		t, newAdmin(t, "1"), commandBan,
		subcommandOption(subcommandAdd, userIDOption("2"), stringOption(optionReason, "spam")),
	)
	data := i.ApplicationCommandData()
	data.Resolved = &discordgo.ApplicationCommandInteractionDataResolved{
		Members: map[string]*discordgo.Member{"2": {Nick: "Maël"}},
	}
	i.Data = data
	handler = runInteraction(t, r, i)
	assert.Equal(t, "🚫 **Maël** banni de la Rencontre.", handler.editContent())

	banned, err := r.store.IsBanned(ctx, "2")
	require.NoError(t, err)
	assert.True(t, banned)
	_, err = r.store.GetProfile(ctx, "2")
	require.ErrorIs(t, err, ErrProfileNotFound)
	roster, err := r.store.GetRoster(ctx)
	require.NoError(t, err)
	assert.Empty(t, roster)
	assert.False(t, r.sessions.Active("2"))
	assert.Contains(t, session.deleted, ref.MessageID)
	assert.Equal(t, []string{"2"}, session.rolesRemoved)
	assert.Equal(
		t,
		[]string{"📘 Profil supprimé", "📘 Ban Rencontre"},
		session.embedTitles(testChannelLogs),
	)

	handler = runInteraction(
		t, r,
		newCommandInteraction(t, newMember(t, "1"), commandBan, subcommandOption(subcommandList)),
	)
	assertEphemeral(t, handler.lastResponse(), "**Bannis Rencontre :** <@2>")

	handler = runInteraction(
		t, r,
		newCommandInteraction(t, newAdmin(t, "1"), commandBan, subcommandOption(subcommandRemove, userIDOption("2"))),
	)
	assertEphemeral(t, handler.lastResponse(), "✅ **2** débanni.")
	banned, err = r.store.IsBanned(ctx, "2")
	require.NoError(t, err)
	assert.False(t, banned)

	handler = runInteraction(
		t, r,
		newCommandInteraction(t, newMember(t, "1"), commandBan, subcommandOption(subcommandList)),
	)
	assertEphemeral(t, handler.lastResponse(), "Aucun membre banni.")
}

func TestRencontre_CommandOwners(t *testing.T) {
	r, _ := newTestRencontre(t)
	ctx := context.Background()

	handler := runInteraction(
		t, r,
		newCommandInteraction(t, newMember(t, "1"), commandOwners, subcommandOption(subcommandList)),
	)
	assertEphemeral(t, handler.lastResponse(), "Aucun owner défini.")

	handler = runInteraction(
		t, r,
		newCommandInteraction(t, newMember(t, "1"), commandOwners, subcommandOption(subcommandAdd, userIDOption("1"))),
	)
	assertEphemeral(t, handler.lastResponse(), msgAdminOnly)

	i := newCommandInteraction(
		t, newAdmin(t, "1"), commandOwners,
		subcommandOption(subcommandAdd, userIDOption("5")),
	)
	data := i.ApplicationCommandData()
	data.Resolved = &discordgo.ApplicationCommandInteractionDataResolved{
		Users: map[string]*discordgo.User{"5": newDiscordUser(t, "5")},
	}
	i.Data = data
	handler = runInteraction(t, r, i)
	assertEphemeral(t, handler.lastResponse(), "✅ **g_5** ajouté comme owner.")

	isOwner, err := r.store.IsOwner(ctx, "5")
	require.NoError(t, err)
	assert.True(t, isOwner)
	owners, err := r.store.ListOwners(ctx)
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, "1", owners[0].AddedBy)

	handler = runInteraction(
		t, r,
		newCommandInteraction(t, newMember(t, "1"), commandOwners, subcommandOption(subcommandList)),
	)
	assertEphemeral(t, handler.lastResponse(), "**Owners :** <@5>")

	handler = runInteraction(
		t, r,
		newCommandInteraction(t, newAdmin(t, "1"), commandOwners, subcommandOption(subcommandRemove, userIDOption("5"))),
	)
	assertEphemeral(t, handler.lastResponse(), "🗑️ **5** retiré des owners.")
	isOwner, err = r.store.IsOwner(ctx, "5")
	require.NoError(t, err)
	assert.False(t, isOwner)
}

func TestRencontre_SpeedDatingJoinLeaveRoster(t *testing.T) {
	r, _ := newTestRencontre(t)
	ctx := context.Background()
	member := newMember(t, "1")
	run := func(sub string) *stubInteractionHandler {
		return runInteraction(t, r, newCommandInteraction(t, member, commandSpeedDating, subcommandOption(sub)))
	}

	assertEphemeral(t, run(subcommandJoin).lastResponse(), msgJoinNeedsProfile)
	assertEphemeral(t, run(subcommandRoster).lastResponse(), msgRosterEmpty)

	saveTestProfile(t, r, "1", GenderFemale)
	assertEphemeral(t, run(subcommandJoin).lastResponse(), msgJoined)
	assertEphemeral(t, run(subcommandJoin).lastResponse(), msgAlreadyJoined)
	assertEphemeral(t, run(subcommandRoster).lastResponse(), "**Inscrits (1) :** <@1>")

	assertEphemeral(t, run(subcommandLeave).lastResponse(), msgLeft)
	assertEphemeral(t, run(subcommandLeave).lastResponse(), msgNotJoined)

	require.NoError(t, r.store.Ban(ctx, "1", "", "admin"))
	assertEphemeral(t, run(subcommandJoin).lastResponse(), msgNoAccess)
}

func TestRencontre_SpeedDatingClear(t *testing.T) {
	r, _ := newTestRencontre(t)
	ctx := context.Background()
	for _, id := range []string{"1", "2"} {
		_, err := r.store.AddToRoster(ctx, id)
		require.NoError(t, err)
	}
	clearRoster := func(m *discordgo.Member) *stubInteractionHandler {
		return runInteraction(t, r, newCommandInteraction(t, m, commandSpeedDating, subcommandOption(subcommandClear)))
	}

	assertEphemeral(t, clearRoster(newMember(t, "1")).lastResponse(), msgNotOrganizer)

	manager := newGuildMember(newDiscordUser(t, "9"), discordgo.PermissionManageChannels)
	assertEphemeral(t, clearRoster(manager).lastResponse(), fmt.Sprintf(msgRosterCleared, 2))

	roster, err := r.store.GetRoster(ctx)
	require.NoError(t, err)
	assert.Empty(t, roster)
}

func TestRencontre_SpeedDatingStart(t *testing.T) {
	r, session := newTestRencontre(t)
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		session.addMember(id, "membre "+id)
	}
	require.NoError(t, r.store.Ban(ctx, "5", "", "admin"))

	start := func(m *discordgo.Member, opts ...*discordgo.ApplicationCommandInteractionDataOption) *stubInteractionHandler {
		return runInteraction(
			t, r,
			newCommandInteraction(t, m, commandSpeedDating, subcommandOption(subcommandStart, opts...)),
		)
	}

	assertEphemeral(t, start(newMember(t, "1")).lastResponse(), msgNotOrganizer)

	// banned users and non-members are dropped
	handler := start(
		newAdmin(t, "1"),
		stringOption(optionParticipants, "<@1> <@2> <@3> <@4> <@5> <@6>"),
		stringOption(optionDuration, "30"),
		stringOption(optionName, "Soirée"),
		boolOption(optionDeleteAfter, false),
	)
	assert.Equal(t, fmt.Sprintf(msgSpeedStarted, 2, "30m"), handler.editContent())

	session.mu.Lock()
	threads := append([]*discordgo.Channel(nil), session.threads...)
	session.mu.Unlock()
	require.Len(t, threads, 2)
	members := map[string]bool{}
	for _, th := range threads {
		assert.True(t, strings.HasPrefix(th.Name, "Soirée "), th.Name)
		assert.Equal(t, testChannelSpeed, th.ParentID)
		for _, id := range session.threadMembers[th.ID] {
			members[id] = true
		}
		require.Len(t, session.messagesIn(th.ID), 1)
	}
	assert.Equal(t, map[string]bool{"1": true, "2": true, "3": true, "4": true}, members)

	inFlight := r.scheduler.InFlight()
	require.Len(t, inFlight, 1)
	assert.Equal(t, 30*time.Minute, inFlight[0].Duration)
	assert.Equal(t, []string{"📘 Speed dating lancé"}, session.embedTitles(testChannelLogs))

	// a second run within the cooldown is refused
	handler = start(newAdmin(t, "1"), stringOption(optionParticipants, "<@1> <@2>"))
	assert.Contains(t, handler.editContent(), "Une soirée a déjà été lancée récemment")

	// closing keeps the threads, archived
	require.NoError(t, r.scheduler.CloseAll(ctx))
	session.mu.Lock()
	assert.Len(t, session.channelEdits, 2)
	assert.Empty(t, session.channelsGone)
	session.mu.Unlock()
}

func TestRencontre_SpeedDatingStart_FromRoster(t *testing.T) {
	r, session := newTestRencontre(t)
	ctx := context.Background()
	session.addMember("1", "Léa")
	_, err := r.store.AddToRoster(ctx, "1")
	require.NoError(t, err)

	// a bot owner may organize
	require.NoError(t, r.store.AddOwner(ctx, "9", "init"))
	organizer := newMember(t, "9")
	start := func() *stubInteractionHandler {
		return runInteraction(
			t, r,
			newCommandInteraction(t, organizer, commandSpeedDating, subcommandOption(subcommandStart)),
		)
	}

	assert.Equal(t, msgNotEnoughParticipants, start().editContent())

	session.addMember("2", "Noé")
	_, err = r.store.AddToRoster(ctx, "2")
	require.NoError(t, err)
	assert.Equal(
		t,
		fmt.Sprintf(msgSpeedStarted, 1, formatEventDuration(DefaultSpeedDatingDuration)),
		start().editContent(),
	)

	// the roster isn't consumed by a run
	roster, err := r.store.GetRoster(ctx)
	require.NoError(t, err)
	assert.Len(t, roster, 2)
}

func TestRencontre_SpeedDatingStart_NoChannel(t *testing.T) {
	cfg := DefaultTestConfig(t)
	cfg.Discord.Channels.SpeedDating = ""
	r, _ := newTestRencontreWithConfig(t, cfg)

	handler := runInteraction(
		t, r,
		newCommandInteraction(t, newAdmin(t, "1"), commandSpeedDating, subcommandOption(subcommandStart)),
	)
	assertEphemeral(t, handler.lastResponse(), msgNoSpeedChannel)
}

func TestRencontre_CommandHelpAndInfo(t *testing.T) {
	r, _ := newTestRencontre(t)
	ctx := context.Background()

	handler := runInteraction(t, r, newCommandInteraction(t, newMember(t, "1"), commandHelp))
	resp := handler.lastResponse()
	require.NotNil(t, resp)
	require.Len(t, resp.Data.Embeds, 1)
	assert.Len(t, resp.Data.Embeds[0].Fields, 2)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)

	for _, id := range []string{"1", "2"} {
		saveTestProfile(t, r, id, GenderMale)
	}
	require.NoError(t, r.store.SetPublication(ctx, "1", testChannelMen, "m1"))

	handler = runInteraction(t, r, newCommandInteraction(t, newMember(t, "1"), commandInfo))
	resp = handler.lastResponse()
	require.NotNil(t, resp)
	require.Len(t, resp.Data.Embeds, 1)
	assert.Zero(t, resp.Data.Flags)
	assert.Contains(t, resp.Data.Embeds[0].Fields[0].Value, "Taux d’activité : **50%**")
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "0", formatPercent(0))
	assert.Equal(t, "50", formatPercent(50))
	assert.Equal(t, "33.3", formatPercent(33.3))
	assert.Equal(t, "100", formatPercent(100))
}

func TestResolvedUser(t *testing.T) {
	i := newCommandInteraction(t, newMember(t, "1"), commandOwners, subcommandOption(subcommandAdd, userIDOption("7")))
	opt := i.ApplicationCommandData().Options[0].Options[0]

	id, name := resolvedUser(i, opt)
	assert.Equal(t, "7", id)
	assert.Equal(t, "7", name)

	data := i.ApplicationCommandData()
	data.Resolved = &discordgo.ApplicationCommandInteractionDataResolved{
		Users:   map[string]*discordgo.User{"7": {ID: "7", Username: "seven"}},
		Members: map[string]*discordgo.Member{"7": {}},
	}
	i.Data = data
	_, name = resolvedUser(i, opt)
	assert.Equal(t, "seven", name)
}
