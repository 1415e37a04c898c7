package rencontre

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"strconv"
	"time"
)

const (
	brandColor = 0x7C3AED

	colorLogProfileCreated = 0xA855F7
	colorLogProfileDeleted = 0xF43F5E
	colorLogLike           = 0xF472B6
	colorLogPass           = 0x9CA3AF
	colorLogContact        = 0x3B82F6
	colorLogConfig         = 0x7DD3FC
	colorLogBan            = 0xEF4444
	colorSpeedReport       = 0x9B59B6
	colorWelcomePanel      = 0x71368A

	customIDStartProfile   = "start_profile"
	customIDEditProfile    = "edit_profile"
	customIDProfileLike    = "profile_like"
	customIDProfilePass    = "profile_pass"
	customIDProfileContact = "profile_contact"
	customIDProfileDelete  = "profile_delete"
	customIDContactModal   = "profile_contact_modal"
	customIDContactMessage = "contact_message"

	profileCardDescription = "💞 Profil Rencontre — Miri"
	profileCardFooter      = "Miri Rencontre • Connecte-toi 🌹"

	reasonProfileDeletedButton = "Suppression via bouton"
	reasonMemberLeft           = "Départ du serveur"
	reasonBanned               = "Ban rencontre"
)

// buildProfileEmbed renders the profile card
func buildProfileEmbed(displayName string, p *Profile) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       displayName,
		Description: profileCardDescription,
		Color:       brandColor,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Âge", Value: strconv.Itoa(p.Age), Inline: true},
			{Name: "Genre", Value: orPlaceholder(p.Gender), Inline: true},
			{Name: "Attirance", Value: orPlaceholder(p.Orientation), Inline: true},
			{Name: "Passions", Value: orPlaceholder(p.Passions)},
			{Name: "Activité", Value: orPlaceholder(p.Activity)},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: profileCardFooter},
	}
	if p.PhotoURL != "" {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: p.PhotoURL}
	}
	return e
}

func orPlaceholder(s string) string {
	if s == "" {
		return emptyAnswerPlaceholder
	}
	return s
}

// profileComponents returns the like/pass/contact/delete buttons of a
// card. Each custom ID carries the card owner's user ID.
func profileComponents(ownerID string) []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Emoji:    &discordgo.ComponentEmoji{Name: "❤️"},
					Style:    discordgo.SuccessButton,
					CustomID: newCustomID(customIDProfileLike, ownerID),
				},
				discordgo.Button{
					Emoji:    &discordgo.ComponentEmoji{Name: "❌"},
					Style:    discordgo.SecondaryButton,
					CustomID: newCustomID(customIDProfilePass, ownerID),
				},
				discordgo.Button{
					Emoji:    &discordgo.ComponentEmoji{Name: "📩"},
					Style:    discordgo.PrimaryButton,
					CustomID: newCustomID(customIDProfileContact, ownerID),
				},
				discordgo.Button{
					Emoji:    &discordgo.ComponentEmoji{Name: "🗑️"},
					Style:    discordgo.DangerButton,
					CustomID: newCustomID(customIDProfileDelete, ownerID),
				},
			},
		},
	}
}

// profileChannel returns the channel a new card is sent to
func (r *Rencontre) profileChannel(p *Profile) string {
	if p.IsFemale() {
		return r.config.Discord.Channels.Women
	}
	return r.config.Discord.Channels.Men
}

// publishProfile edits the user's existing card in place, or sends a
// new one when there's no card or the stored reference is stale.
func (r *Rencontre) publishProfile(
	ctx context.Context,
	p *Profile,
	displayName string,
) (*PublicationRef, error) {
	logger := r.contextLogger(ctx).With("user_id", p.UserID)
	embed := buildProfileEmbed(displayName, p)
	components := profileComponents(p.UserID)

	ref, err := r.store.GetPublication(ctx, p.UserID)
	if err != nil {
		logger.ErrorContext(ctx, "error getting publication", tint.Err(err))
	}
	if ref != nil {
		embeds := []*discordgo.MessageEmbed{embed}
		_, editErr := r.discord.session.ChannelMessageEditComplex(
			&discordgo.MessageEdit{
				ID:         ref.MessageID,
				Channel:    ref.ChannelID,
				Embeds:     &embeds,
				Components: &components,
			},
			discordgo.WithContext(ctx),
		)
		if editErr == nil {
			logger.InfoContext(ctx, "updated profile card", "channel_id", ref.ChannelID, "message_id", ref.MessageID)
			return ref, nil
		}
		logger.WarnContext(
			ctx,
			"stale profile card, sending a new one",
			tint.Err(collaboratorErr("edit_profile_card", ref.MessageID, editErr)),
		)
	}

	channelID := r.profileChannel(p)
	if channelID == "" {
		return nil, errors.New("no channel configured for profile cards")
	}
	msg, err := r.discord.session.ChannelMessageSendComplex(
		channelID,
		&discordgo.MessageSend{
			Embeds:     []*discordgo.MessageEmbed{embed},
			Components: components,
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return nil, collaboratorErr("send_profile_card", channelID, err)
	}
	if err = r.store.SetPublication(ctx, p.UserID, channelID, msg.ID); err != nil {
		return nil, fmt.Errorf("error saving publication: %w", err)
	}
	logger.InfoContext(ctx, "published profile card", "channel_id", channelID, "message_id", msg.ID)
	return &PublicationRef{
		ModelUserID: ModelUserID{UserID: p.UserID},
		ChannelID:   channelID,
		MessageID:   msg.ID,
	}, nil
}

// fullProfileReset deletes everything tied to the user's profile: the
// stored data, the card, the access role and any cooldowns. Discord
// failures are logged and skipped.
func (r *Rencontre) fullProfileReset(
	ctx context.Context,
	userID string,
	reason string,
	doLog bool,
) error {
	logger := r.contextLogger(ctx).With("user_id", userID, "reason", reason)

	ref, err := r.store.DeleteProfile(ctx, userID)
	if err != nil {
		logger.ErrorContext(ctx, "error deleting profile", tint.Err(err))
		return err
	}
	r.cooldowns.forgetUser(userID)

	if ref != nil {
		if delErr := r.discord.session.ChannelMessageDelete(
			ref.ChannelID,
			ref.MessageID,
			discordgo.WithContext(ctx),
		); delErr != nil {
			logger.WarnContext(
				ctx,
				"error deleting profile card",
				tint.Err(collaboratorErr("delete_profile_card", ref.MessageID, delErr)),
			)
		}
	}

	if roleErr := r.discord.removeAccessRole(ctx, userID); roleErr != nil {
		logger.WarnContext(ctx, "error removing access role", tint.Err(roleErr))
	}

	logger.InfoContext(ctx, "profile reset")
	if doLog {
		r.sendLogEmbed(
			ctx,
			"Profil supprimé",
			fmt.Sprintf("Profil supprimé (%s)", reason),
			r.logAuthor(ctx, userID),
			colorLogProfileDeleted,
		)
	}
	return nil
}
