package rencontre

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"strings"
	"time"

	// the logs channel shows Paris time, even on hosts without zoneinfo
	_ "time/tzdata"
)

const (
	eventLogFooter       = "Miri Rencontre • Journal des événements"
	eventLogTimezone     = "Europe/Paris"
	eventLogTimeFormat   = "02/01/2006 15:04"
	speedReportMaxThread = 10
)

// sendLogEmbed posts an event to the logs channel. Nothing is sent when
// no logs channel is configured, and failures are only logged.
func (r *Rencontre) sendLogEmbed(
	ctx context.Context,
	action string,
	details string,
	user *discordgo.User,
	color int,
) {
	channelID := r.config.Discord.Channels.Logs
	if channelID == "" {
		return
	}
	if color == 0 {
		color = brandColor
	}
	e := &discordgo.MessageEmbed{
		Title:       "📘 " + action,
		Description: details,
		Color:       color,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: eventLogFooter},
	}
	if user != nil {
		e.Author = &discordgo.MessageEmbedAuthor{
			Name:    user.String(),
			IconURL: user.AvatarURL(""),
		}
	}
	_, err := r.discord.session.ChannelMessageSendComplex(
		channelID,
		&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{e}},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		r.contextLogger(ctx).WarnContext(
			ctx,
			"error sending log embed",
			"action", action,
			tint.Err(collaboratorErr("send_log_embed", channelID, err)),
		)
	}
}

// logAuthor looks up the user to show as the author of a log embed.
// It returns nil if the member can't be fetched, ex: after they left.
func (r *Rencontre) logAuthor(ctx context.Context, userID string) *discordgo.User {
	m, err := r.discord.guildMember(ctx, userID)
	if err != nil || m == nil {
		return nil
	}
	return m.User
}

// eventLocation is the timezone used for times shown in the logs channel
func eventLocation() *time.Location {
	loc, err := time.LoadLocation(eventLogTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// speedReportEmbed renders a closed run for the logs channel, listing
// the first conversations as links
func speedReportEmbed(guildID string, report *Report, loc *time.Location) *discordgo.MessageEmbed {
	if loc == nil {
		loc = time.UTC
	}
	e := &discordgo.MessageEmbed{
		Title: "🕊️ Rapport — Soirée Speed Dating",
		Description: fmt.Sprintf(
			"**Organisateur :** %s\n**Durée :** %s\n**Threads créés :** %d",
			userMention(report.RequestedBy),
			formatEventDuration(report.Duration),
			len(report.Conversations),
		),
		Color:     colorSpeedReport,
		Timestamp: report.ClosedAt.UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "🕒 Horaires",
				Value: fmt.Sprintf(
					"Début : %s\nFin : %s",
					report.StartedAt.In(loc).Format(eventLogTimeFormat),
					report.ClosedAt.In(loc).Format(eventLogTimeFormat),
				),
			},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "Session " + report.SessionID},
	}

	if len(report.Conversations) > 0 {
		lines := make([]string, 0, speedReportMaxThread)
		for _, c := range report.Conversations[:min(len(report.Conversations), speedReportMaxThread)] {
			lines = append(
				lines,
				fmt.Sprintf("• [%s](https://discord.com/channels/%s/%s)", c.Name, guildID, c.ID),
			)
		}
		e.Fields = append(
			e.Fields,
			&discordgo.MessageEmbedField{Name: "💬 Conversations", Value: strings.Join(lines, "\n")},
		)
		if extra := len(report.Conversations) - speedReportMaxThread; extra > 0 {
			e.Fields = append(
				e.Fields,
				&discordgo.MessageEmbedField{
					Name:  "…",
					Value: fmt.Sprintf("+%d threads supplémentaires", extra),
				},
			)
		}
	}
	if len(report.Unpaired) > 0 {
		e.Fields = append(
			e.Fields,
			&discordgo.MessageEmbedField{
				Name:  "🪑 Sans binôme",
				Value: truncate(joinMentions(report.Unpaired), 1024),
			},
		)
	}
	if len(report.Failures) > 0 {
		e.Fields = append(
			e.Fields,
			&discordgo.MessageEmbedField{
				Name:  "⚠️ Incidents",
				Value: fmt.Sprintf("%d appel(s) Discord en échec", len(report.Failures)),
			},
		)
	}
	return e
}

// onSpeedReport is the scheduler's report sink: the run is saved as an
// audit record and posted to the logs channel
func (r *Rencontre) onSpeedReport(ctx context.Context, report *Report) {
	logger := r.contextLogger(ctx).With("session_id", report.SessionID)
	if err := r.store.SaveSpeedEvent(ctx, report); err != nil {
		logger.ErrorContext(ctx, "error saving speed dating report", tint.Err(err))
	}
	if r.config.Discord.Channels.Logs == "" {
		return
	}
	_, err := r.discord.session.ChannelMessageSendComplex(
		r.config.Discord.Channels.Logs,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{
				speedReportEmbed(r.config.Discord.GuildID, report, r.location),
			},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.WarnContext(
			ctx,
			"error sending speed dating report",
			tint.Err(collaboratorErr("send_speed_report", r.config.Discord.Channels.Logs, err)),
		)
	}
}
