package rencontre

import (
	"context"
	"crypto/tls"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"log/slog"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	loggerContextKey contextKey = "logger"
	customIDFormat              = "%s:%s"
)

var (
	structValidator = validator.New()
	mentionPattern  = regexp.MustCompile(`<@!?(\d+)>`)
)

type contextKey string

// structToSlogValue converts a struct to a slog.Value, using the struct's
// JSON tag as the key for each field, if set.
// If the `log` tag is set, the value specified will override the
// field's actual value. Ex: `log:"REDACTED"` will cause "REDACTED" to
// be shown as the field's value.
func structToSlogValue(v any) slog.Value {
	typ := reflect.TypeOf(v)
	if typ == nil {
		return slog.AnyValue(nil)
	}
	val := reflect.ValueOf(v)

	if typ.Kind() == reflect.Ptr {
		if val.IsNil() {
			return slog.AnyValue(nil)
		}
		val = val.Elem()
		typ = typ.Elem()
	}

	if typ.Kind() != reflect.Struct {
		return slog.AnyValue(v)
	}

	var groupAttrs []slog.Attr

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		jsonTag, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if jsonTag == "-" {
			continue
		}
		if jsonTag == "" {
			jsonTag = field.Name
		}

		fv := val.Field(i)
		if !fv.CanInterface() {
			continue
		}

		if logTag := field.Tag.Get("log"); logTag != "" {
			groupAttrs = append(
				groupAttrs,
				slog.Attr{Key: jsonTag, Value: slog.StringValue(logTag)},
			)
			continue
		}

		// skip values that are nil or empty
		switch fv.Kind() {
		case reflect.Ptr:
			if fv.IsNil() {
				continue
			}
		case reflect.Map, reflect.Slice:
			if fv.IsNil() || fv.Len() == 0 {
				continue
			}
		case reflect.String:
			if fv.Len() == 0 {
				continue
			}
		default:
		}

		if lv, ok := fv.Interface().(*slog.LevelVar); ok {
			groupAttrs = append(groupAttrs, slog.String(jsonTag, lv.Level().String()))
			continue
		}

		groupAttrs = append(
			groupAttrs,
			slog.Attr{Key: jsonTag, Value: structToSlogValue(fv.Interface())},
		)
	}
	return slog.GroupValue(groupAttrs...)
}

// WithLogger returns a new context with the given logger added.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		logger = slog.Default()
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// ContextLogger returns a logger from the given context if one
// is present, and a boolean indicating whether a logger was found.
func ContextLogger(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(loggerContextKey).(*slog.Logger)
	return logger, ok
}

// truncate shortens the input string to a specified number of characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// excerpt is truncate with a trailing ellipsis when anything was cut
func excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return truncate(s, n) + "…"
}

// parseMentions returns the user IDs mentioned in s, in order of first
// appearance, without duplicates
func parseMentions(s string) []string {
	matches := mentionPattern.FindAllStringSubmatch(s, -1)
	seen := make(map[string]struct{}, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		ids = append(ids, m[1])
	}
	return ids
}

func userMention(userID string) string {
	return fmt.Sprintf("<@%s>", userID)
}

// newCustomID builds a component custom ID carrying the given value,
// ex: "profile_like:1234"
func newCustomID(action string, value string) string {
	return fmt.Sprintf(customIDFormat, action, value)
}

// decodeCustomID splits a component custom ID built by newCustomID
func decodeCustomID(customID string) (action string, value string) {
	action, value, _ = strings.Cut(customID, ":")
	return action, value
}

// discordInteractionOptions returns a map of an application command's
// options, keyed by name. If the command was invoked through a
// subcommand, the subcommand name is returned along with its own options.
func discordInteractionOptions(
	i *discordgo.InteractionCreate,
) (string, map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	options := i.ApplicationCommandData().Options
	var subcommand string
	if len(options) == 1 {
		switch options[0].Type {
		case discordgo.ApplicationCommandOptionSubCommand,
			discordgo.ApplicationCommandOptionSubCommandGroup:
			subcommand = options[0].Name
			options = options[0].Options
		default:
		}
	}
	optionMap := make(
		map[string]*discordgo.ApplicationCommandInteractionDataOption,
		len(options),
	)
	for _, option := range options {
		optionMap[option.Name] = option
	}
	return subcommand, optionMap
}

func interactionLogAttrs(i discordgo.InteractionCreate) []any {
	logAttrs := []any{
		"id", i.ID,
		"type", i.Type.String(),
	}
	if i.ChannelID != "" {
		logAttrs = append(logAttrs, "channel_id", i.ChannelID)
	}
	if i.GuildID != "" {
		logAttrs = append(logAttrs, "guild_id", i.GuildID)
	}
	return logAttrs
}

func tlsConfig(certfile string, keyfile string, minVersion uint16) (
	*tls.Config,
	error,
) {
	cert, err := tls.LoadX509KeyPair(certfile, keyfile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
		ClientAuth:   tls.NoClientCert,
	}, nil
}

//nolint:gochecknoinits
func init() {
	structValidator.SetTagName("binding")
}
