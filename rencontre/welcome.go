package rencontre

import (
	"context"
	"errors"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	welcomePanelTitle       = "🌙 Bienvenue dans **Miri Rencontre**"
	welcomePanelDescription = "✨ **Découvre, partage, connecte.**\n\n" +
		"Crée ton profil pour rencontrer de nouvelles personnes, liker, échanger " +
		"et participer aux **soirées rencontre** 🥂\n\n" +
		"⚠️ Réservé aux **18 ans et plus**.\n\n" +
		"> 🌹 Clique sur le bouton ci-dessous pour commencer."
	welcomePanelFooter = "Miri Rencontre • Ensemble, ça matche 💞"
)

func welcomePanelMessage() *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{
			{
				Title:       welcomePanelTitle,
				Description: welcomePanelDescription,
				Color:       colorWelcomePanel,
				Footer:      &discordgo.MessageEmbedFooter{Text: welcomePanelFooter},
			},
		},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    "✨ Créer mon profil",
						Emoji:    &discordgo.ComponentEmoji{Name: "🌹"},
						Style:    discordgo.SuccessButton,
						CustomID: customIDStartProfile,
					},
					discordgo.Button{
						Label:    "Modifier mon profil",
						Emoji:    &discordgo.ComponentEmoji{Name: "✏️"},
						Style:    discordgo.SecondaryButton,
						CustomID: customIDEditProfile,
					},
				},
			},
		},
	}
}

// ensureWelcomePanel posts the welcome panel unless the stored one
// still exists. A reference to a deleted message results in a new panel.
func (r *Rencontre) ensureWelcomePanel(ctx context.Context) (*MessageRef, error) {
	channelID := r.config.Discord.Channels.Welcome
	if channelID == "" {
		return nil, nil
	}
	logger := r.contextLogger(ctx).With("channel_id", channelID)

	ref, err := r.store.GetWelcomePanel(ctx)
	if err != nil {
		logger.WarnContext(ctx, "error reading welcome panel reference", tint.Err(err))
	}
	if ref != nil && ref.ChannelID == channelID {
		_, fetchErr := r.discord.session.ChannelMessage(
			ref.ChannelID,
			ref.MessageID,
			discordgo.WithContext(ctx),
		)
		if fetchErr == nil {
			logger.DebugContext(ctx, "welcome panel found", "message_id", ref.MessageID)
			return ref, nil
		}
		logger.InfoContext(ctx, "welcome panel missing, posting a new one", tint.Err(fetchErr))
	}

	msg, err := r.discord.session.ChannelMessageSendComplex(
		channelID,
		welcomePanelMessage(),
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return nil, collaboratorErr("send_welcome_panel", channelID, err)
	}
	if msg == nil {
		return nil, errors.New("no message returned for welcome panel")
	}
	newRef := MessageRef{ChannelID: channelID, MessageID: msg.ID}
	if err = r.store.SetWelcomePanel(ctx, newRef); err != nil {
		return &newRef, err
	}
	logger.InfoContext(ctx, "posted welcome panel", "message_id", msg.ID)
	return &newRef, nil
}
