package rencontre

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
)

const (
	msgOnboardingStopped  = "🚫 Création annulée."
	msgOnboardingUnderage = "🚫 Désolé, réservé aux **18+**."
	msgOnboardingExpired  = "⌛ Ta session a expiré. Reclique sur **✨ Créer mon profil** pour recommencer."
	msgProfileSaved       = "✅ **Profil enregistré !** Il est maintenant visible sur le serveur 💞"
	msgProfileSaveFailed  = "⚠️ Impossible d’enregistrer ton profil pour le moment. Réessaie plus tard."
)

func messageAttachments(m *discordgo.Message) []Attachment {
	if len(m.Attachments) == 0 {
		return nil
	}
	attachments := make([]Attachment, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		attachments = append(attachments, Attachment{URL: a.URL, ContentType: a.ContentType})
	}
	return attachments
}

func cancelMessage(reason CancelReason) string {
	switch reason {
	case CancelUnderage:
		return msgOnboardingUnderage
	case CancelExpired:
		return msgOnboardingExpired
	case CancelStopped:
		return msgOnboardingStopped
	default:
		return ""
	}
}

// handleDirectMessage feeds a direct message to the user's questionnaire.
// Messages in guild channels, from bots, or from users without a
// session are ignored.
func (r *Rencontre) handleDirectMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}
	if m.Author.Bot || m.GuildID != "" {
		return
	}
	logger := r.logger.With("user_id", m.Author.ID, "channel_id", m.ChannelID)
	ctx = WithLogger(ctx, logger)

	defer func() {
		if rc := recover(); rc != nil {
			handleRecover(ctx, rc)
		}
	}()

	outcome := r.sessions.Submit(m.Author.ID, m.Content, messageAttachments(m.Message))
	if outcome.Kind == OutcomeNoSession {
		return
	}
	logger.DebugContext(ctx, "submitted answer", "outcome", outcome.Kind.String(), "step", outcome.Step.String())

	var reply string
	switch outcome.Kind {
	case OutcomeNextPrompt:
		reply = outcome.Prompt
	case OutcomeValidationError:
		reply = outcome.Reason + "\n" + outcome.Prompt
	case OutcomeCancelled:
		reply = cancelMessage(outcome.CancelReason)
	case OutcomeCompleted:
		reply = r.completeProfile(ctx, m.Author, outcome)
	}
	if reply == "" {
		return
	}
	if _, err := r.discord.session.ChannelMessageSend(
		m.ChannelID,
		reply,
		discordgo.WithContext(ctx),
	); err != nil {
		logger.WarnContext(
			ctx,
			"error replying to direct message",
			tint.Err(collaboratorErr("send_direct_message", m.ChannelID, err)),
		)
	}
}

// completeProfile saves a finished questionnaire, publishes the card
// and grants the access role. It returns the reply for the user.
func (r *Rencontre) completeProfile(
	ctx context.Context,
	u *discordgo.User,
	outcome Outcome,
) string {
	logger := r.contextLogger(ctx)
	if outcome.Draft == nil {
		logger.ErrorContext(ctx, "completed outcome without a draft")
		return msgProfileSaveFailed
	}

	banned, err := r.store.IsBanned(ctx, u.ID)
	if err != nil {
		logger.ErrorContext(ctx, "error checking ban", tint.Err(err))
		return msgProfileSaveFailed
	}
	if banned {
		logger.InfoContext(ctx, "banned user completed questionnaire, discarding")
		return msgNoAccess
	}

	profile := ProfileFromDraft(u.ID, *outcome.Draft)
	if err = r.store.SetProfile(ctx, profile); err != nil {
		logger.ErrorContext(ctx, "error saving profile", tint.Err(err))
		return msgProfileSaveFailed
	}
	logger.InfoContext(ctx, "saved profile", slog.Any("profile", profile))

	member, err := r.discord.guildMember(ctx, u.ID)
	if err != nil {
		logger.WarnContext(ctx, "user isn't a guild member, profile not published", tint.Err(err))
		return msgProfileSaved
	}

	if _, err = r.publishProfile(ctx, profile, memberDisplayName(member)); err != nil {
		logger.ErrorContext(ctx, "error publishing profile", tint.Err(err))
	}
	if err = r.discord.addAccessRole(ctx, u.ID); err != nil {
		logger.WarnContext(ctx, "error adding access role", tint.Err(err))
	}

	action := "Création de profil"
	details := fmt.Sprintf("%s a créé son profil 💞", userMention(u.ID))
	if outcome.Mode == SessionModeEdit {
		action = "Modification de profil"
		details = fmt.Sprintf("%s a modifié son profil ✏️", userMention(u.ID))
	}
	r.sendLogEmbed(ctx, action, details, u, colorLogProfileCreated)
	return msgProfileSaved
}
