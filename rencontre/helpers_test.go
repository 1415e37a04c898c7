package rencontre

import (
	"context"
	"errors"
	"fmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"testing"
	"time"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel", truncate("hello", 3))
	assert.Equal(t, "hé", truncate("héllo", 2))
	assert.Equal(t, "💞", truncate("💞💞", 1))
	assert.Equal(t, "", truncate("hello", 0))
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "hi", excerpt("hi", 3))
	assert.Equal(t, "hel…", excerpt("hello", 3))
	assert.Equal(t, "ééé…", excerpt("éééé", 3))
}

func TestParseMentions(t *testing.T) {
	assert.Equal(
		t,
		[]string{"1", "22"},
		parseMentions("<@1> <@!22> et encore <@1>"),
	)
	assert.Empty(t, parseMentions("personne"))
	assert.Empty(t, parseMentions("<@abc> <#123> <@&456>"))
}

func TestUserMention(t *testing.T) {
	assert.Equal(t, "<@123>", userMention("123"))
	assert.Equal(t, []string{"123"}, parseMentions(userMention("123")))
}

func TestCustomID(t *testing.T) {
	id := newCustomID(customIDProfileLike, "1234")
	assert.Equal(t, fmt.Sprintf("%s:1234", customIDProfileLike), id)

	action, value := decodeCustomID(id)
	assert.Equal(t, customIDProfileLike, action)
	assert.Equal(t, "1234", value)

	action, value = decodeCustomID(customIDStartProfile)
	assert.Equal(t, customIDStartProfile, action)
	assert.Empty(t, value)
}

func TestDiscordInteractionOptions(t *testing.T) {
	u := newDiscordUser(t, "1")
	i := newCommandInteraction(
		t,
		newGuildMember(u, 0),
		"speeddating",
		subcommandOption("start", stringOption("duration", "20"), intOption("groups", 3)),
	)
	subcommand, options := discordInteractionOptions(i)
	assert.Equal(t, "start", subcommand)
	require.Len(t, options, 2)
	assert.Equal(t, "20", options["duration"].StringValue())
	assert.Equal(t, int64(3), options["groups"].IntValue())

	i = newCommandInteraction(t, newGuildMember(u, 0), "stats", boolOption("public", true))
	subcommand, options = discordInteractionOptions(i)
	assert.Empty(t, subcommand)
	require.Contains(t, options, "public")
	assert.True(t, options["public"].BoolValue())
}

type loggedThing struct {
	Name     string         `json:"name"`
	Secret   string         `json:"secret" log:"[redacted]"`
	Skipped  string         `json:"-"`
	Empty    string         `json:"empty,omitempty"`
	Nested   *loggedNested  `json:"nested"`
	Level    *slog.LevelVar `json:"level"`
	Untagged int
	hidden   string
}

type loggedNested struct {
	Timeout time.Duration `json:"timeout"`
}

func TestStructToSlogValue(t *testing.T) {
	level := &slog.LevelVar{}
	level.Set(slog.LevelWarn)

	v := structToSlogValue(
		&loggedThing{
			Name:     "miri",
			Secret:   "hunter2",
			Skipped:  "nope",
			Nested:   &loggedNested{Timeout: time.Minute},
			Level:    level,
			Untagged: 3,
			hidden:   "x",
		},
	)
	require.Equal(t, slog.KindGroup, v.Kind())

	attrs := map[string]slog.Value{}
	for _, a := range v.Group() {
		attrs[a.Key] = a.Value
	}
	assert.Equal(t, "miri", attrs["name"].String())
	assert.Equal(t, "[redacted]", attrs["secret"].String())
	assert.Equal(t, "WARN", attrs["level"].String())
	assert.Equal(t, slog.KindGroup, attrs["nested"].Kind())
	assert.Contains(t, attrs, "Untagged")
	assert.NotContains(t, attrs, "Skipped")
	assert.NotContains(t, attrs, "-")
	assert.NotContains(t, attrs, "empty")
	assert.NotContains(t, attrs, "hidden")

	var nilThing *loggedThing
	assert.Nil(t, structToSlogValue(nilThing).Any())
	assert.Equal(t, int64(5), structToSlogValue(5).Int64())
}

func TestContextLogger(t *testing.T) {
	_, ok := ContextLogger(context.Background())
	assert.False(t, ok)

	logger := slog.Default().With("test", t.Name())
	got, ok := ContextLogger(WithLogger(context.Background(), logger))
	require.True(t, ok)
	assert.Same(t, logger, got)

	got, ok = ContextLogger(WithLogger(context.Background(), nil))
	require.True(t, ok)
	assert.NotNil(t, got)
}

func TestInteractionLogAttrs(t *testing.T) {
	i := newComponentInteraction(t, newGuildMember(newDiscordUser(t, "1"), 0), customIDStartProfile)
	attrs := interactionLogAttrs(*i)
	assert.Contains(t, attrs, "guild_id")
	assert.Contains(t, attrs, testGuildID)
	assert.Contains(t, attrs, "channel_id")
}

func TestCollaboratorError(t *testing.T) {
	assert.NoError(t, collaboratorErr(opSendWelcome, "thread", nil))

	cause := errors.New("missing access")
	err := collaboratorErr(opSendWelcome, "thread-1", cause)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, fmt.Sprintf("%s thread-1: missing access", opSendWelcome), err.Error())

	var collabErr *CollaboratorError
	require.ErrorAs(t, err, &collabErr)
	assert.Equal(t, opSendWelcome, collabErr.Op)

	err = collaboratorErr(opSendWelcome, "", cause)
	assert.Equal(t, fmt.Sprintf("%s: missing access", opSendWelcome), err.Error())
}

func TestCooldownError(t *testing.T) {
	err := error(&CooldownError{Remaining: 90*time.Second + 400*time.Millisecond})
	assert.ErrorIs(t, err, ErrCooldownActive)
	assert.NotErrorIs(t, err, ErrNotEnoughParticipants)
	assert.Contains(t, err.Error(), "1m30s remaining")

	wrapped := fmt.Errorf("start: %w", err)
	var cooldownErr *CooldownError
	require.ErrorAs(t, wrapped, &cooldownErr)
	assert.Equal(t, 90*time.Second+400*time.Millisecond, cooldownErr.Remaining)
}
