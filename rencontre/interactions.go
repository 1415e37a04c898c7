package rencontre

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"strings"
	"time"
)

const (
	contactExcerptLength = 180

	msgGenericError       = "⚠️ Une erreur est survenue, réessaie dans un instant."
	msgNoAccess           = "🚫 Tu n’as pas accès à l’espace Rencontre."
	msgCheckDM            = "📩 Regarde tes **DM** pour commencer la création 💞"
	msgSessionActive      = "⏳ Tu as déjà une création en cours dans tes DM."
	msgDMClosed           = "⚠️ Impossible de t’écrire en DM (DM fermés ?)."
	msgNoProfileToEdit    = "ℹ️ Tu n’as pas encore de profil. Clique sur **✨ Créer mon profil**."
	msgProfileGone        = "⚠️ Ce profil n’existe plus."
	msgSelfLike           = "💡 Tu ne peux pas te liker toi-même."
	msgLikeCooldown       = "⏳ Attends un peu avant de reliker ❤️ (encore **%s**)"
	msgLikeRecorded       = "❤️ Like enregistré."
	msgSelfPass           = "🙃 Tu ne peux pas passer sur toi-même."
	msgPassRecorded       = "👌 C’est noté."
	msgSelfContact        = "🙃 Pas toi-même."
	msgContactCooldown    = "⏳ Attends un peu avant d’envoyer un nouveau message 💌 (encore **%s**)"
	msgContactEmpty       = "⚠️ Message vide."
	msgMemberNotFound     = "⚠️ Membre introuvable."
	msgContactSent        = "📨 Message envoyé avec succès 💞"
	msgContactNotSent     = "⚠️ Impossible d’envoyer le DM (DM fermés ?)."
	msgDeleteForbidden    = "❌ Tu ne peux pas supprimer ce profil."
	msgProfileDeleted     = "✅ Profil supprimé avec succès."
	msgGuildOnly          = "⚠️ Utilisable sur le serveur."
	contactDMFormat       = "💌 **%s** souhaite te parler !\n🗨️ “%s”\n\n❤️ Tu peux répondre directement à ce message."
	onboardingIntroCreate = "💞 Création de ton profil"
	onboardingIntroEdit   = "✏️ Modification de ton profil"
	onboardingIntroText   = "Réponds aux questions pas à pas. Tu peux écrire `stop` pour annuler."
	onboardingIntroSkip   = "\nÀ la photo, écris `skip` pour garder l’actuelle."
)

// InteractionHandler responds to one discord interaction
type InteractionHandler interface {
	// Respond sends the initial response to the interaction
	Respond(ctx context.Context, i *discordgo.InteractionResponse) error

	// Edit modifies the initial (or deferred) response
	Edit(
		ctx context.Context,
		e *discordgo.WebhookEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// Followup sends an additional message after the initial response
	Followup(ctx context.Context, params *discordgo.WebhookParams) (*discordgo.Message, error)

	// GetInteraction returns the original InteractionCreate event
	GetInteraction() *discordgo.InteractionCreate

	Logger() *slog.Logger
}

// GatewayHandler implements [InteractionHandler] for interactions
// received through the discord gateway
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
}

func (w GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := w.session.InteractionRespond(
		w.interaction.Interaction,
		response,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	} else {
		w.logger.DebugContext(ctx, "responded to interaction")
	}
	return err
}

func (w GatewayHandler) Edit(
	ctx context.Context,
	wh *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := w.session.InteractionResponseEdit(
		w.interaction.Interaction,
		wh,
		append(opts, discordgo.WithContext(ctx))...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	}
	return msg, err
}

func (w GatewayHandler) Followup(
	ctx context.Context,
	params *discordgo.WebhookParams,
) (*discordgo.Message, error) {
	msg, err := w.session.FollowupMessageCreate(
		w.interaction.Interaction,
		true,
		params,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error sending followup message", tint.Err(err))
	}
	return msg, err
}

func (w GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w GatewayHandler) Logger() *slog.Logger {
	return w.logger
}

// ephemeralResponse is a message only the interacting user sees
func ephemeralResponse(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

func deferredEphemeralResponse() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: discordgo.MessageFlagsEphemeral,
		},
	}
}

func editContent(content string) *discordgo.WebhookEdit {
	return &discordgo.WebhookEdit{Content: &content}
}

// formatWait renders a cooldown's remaining time, rounded up to the
// minute past 60 seconds
func formatWait(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", max(1, int((d+time.Second-1)/time.Second)))
	}
	return fmt.Sprintf("%d min", int((d+time.Minute-1)/time.Minute))
}

// handleInteraction dispatches an interaction by type. Panics are
// recovered and logged.
func (r *Rencontre) handleInteraction(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	ctx = WithLogger(ctx, logger)

	defer func() {
		if rc := recover(); rc != nil {
			handleRecover(ctx, rc)
		}
	}()

	u := getDiscordUser(i)
	if u == nil {
		logger.ErrorContext(ctx, "no user found in interaction")
		return
	}
	if u.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring", "user_id", u.ID)
		return
	}
	logger.InfoContext(ctx, "received interaction", slog.Group("user", "id", u.ID, "username", u.Username))

	switch i.Type {
	case discordgo.InteractionPing:
		_ = handler.Respond(ctx, &discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong})
	case discordgo.InteractionApplicationCommand:
		r.handleCommand(ctx, handler, u)
	case discordgo.InteractionMessageComponent:
		r.handleComponent(ctx, handler, u)
	case discordgo.InteractionModalSubmit:
		r.handleModalSubmit(ctx, handler, u)
	default:
		logger.WarnContext(ctx, "unhandled interaction type")
	}
}

func (r *Rencontre) handleComponent(
	ctx context.Context,
	handler InteractionHandler,
	u *discordgo.User,
) {
	data := handler.GetInteraction().MessageComponentData()
	action, ownerID := decodeCustomID(data.CustomID)
	logger := handler.Logger().With("custom_id", data.CustomID)
	ctx = WithLogger(ctx, logger)

	switch action {
	case customIDStartProfile:
		r.startOnboarding(ctx, handler, u, SessionModeCreate)
	case customIDEditProfile:
		r.startOnboarding(ctx, handler, u, SessionModeEdit)
	case customIDProfileLike:
		r.likeProfile(ctx, handler, u, ownerID)
	case customIDProfilePass:
		r.passProfile(ctx, handler, u, ownerID)
	case customIDProfileContact:
		r.openContactModal(ctx, handler, u, ownerID)
	case customIDProfileDelete:
		r.deleteProfileCard(ctx, handler, u, ownerID)
	default:
		logger.WarnContext(ctx, "unknown component")
	}
}

// startOnboarding starts the DM questionnaire, in create or edit mode
func (r *Rencontre) startOnboarding(
	ctx context.Context,
	handler InteractionHandler,
	u *discordgo.User,
	mode SessionMode,
) {
	logger := handler.Logger()

	banned, err := r.store.IsBanned(ctx, u.ID)
	if err != nil {
		logger.ErrorContext(ctx, "error checking ban", tint.Err(err))
		_ = handler.Respond(ctx, ephemeralResponse(msgGenericError))
		return
	}
	if banned {
		_ = handler.Respond(ctx, ephemeralResponse(msgNoAccess))
		return
	}

	var priorPhotoURL string
	if mode == SessionModeEdit {
		p, getErr := r.store.GetProfile(ctx, u.ID)
		switch {
		case errors.Is(getErr, ErrProfileNotFound):
			_ = handler.Respond(ctx, ephemeralResponse(msgNoProfileToEdit))
			return
		case getErr != nil:
			logger.ErrorContext(ctx, "error getting profile", tint.Err(getErr))
			_ = handler.Respond(ctx, ephemeralResponse(msgGenericError))
			return
		default:
			priorPhotoURL = p.PhotoURL
		}
	}

	prompt, err := r.sessions.Start(u.ID, mode, priorPhotoURL)
	if errors.Is(err, ErrSessionActive) {
		_ = handler.Respond(ctx, ephemeralResponse(msgSessionActive))
		return
	}
	if err != nil {
		logger.ErrorContext(ctx, "error starting session", tint.Err(err))
		_ = handler.Respond(ctx, ephemeralResponse(msgGenericError))
		return
	}

	if err = handler.Respond(ctx, ephemeralResponse(msgCheckDM)); err != nil {
		r.sessions.Cancel(u.ID)
		return
	}

	intro := &discordgo.MessageEmbed{
		Title:       onboardingIntroCreate,
		Description: onboardingIntroText,
		Color:       brandColor,
	}
	if mode == SessionModeEdit {
		intro.Title = onboardingIntroEdit
		intro.Description += onboardingIntroSkip
	}
	_, err = r.discord.sendDirectMessage(
		ctx,
		u.ID,
		&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{intro}},
	)
	if err == nil {
		_, err = r.discord.sendDirectMessage(ctx, u.ID, &discordgo.MessageSend{Content: prompt})
	}
	if err != nil {
		logger.WarnContext(ctx, "unable to DM user, cancelling session", tint.Err(err))
		r.sessions.Cancel(u.ID)
		_, _ = handler.Followup(
			ctx,
			&discordgo.WebhookParams{Content: msgDMClosed, Flags: discordgo.MessageFlagsEphemeral},
		)
	}
}

// interactionSettings returns the persisted cooldowns, falling back to
// the configured defaults if the store can't be read
func (r *Rencontre) interactionSettings(ctx context.Context) InteractionSettings {
	settings, err := r.store.Settings(ctx)
	if err != nil {
		r.contextLogger(ctx).WarnContext(ctx, "error reading settings, using defaults", tint.Err(err))
	}
	return settings
}

// profileExists responds with an error message and returns false if
// the card's owner no longer has a profile
func (r *Rencontre) profileExists(
	ctx context.Context,
	handler InteractionHandler,
	ownerID string,
) bool {
	_, err := r.store.GetProfile(ctx, ownerID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrProfileNotFound):
		_ = handler.Respond(ctx, ephemeralResponse(msgProfileGone))
	default:
		handler.Logger().ErrorContext(ctx, "error getting profile", tint.Err(err))
		_ = handler.Respond(ctx, ephemeralResponse(msgGenericError))
	}
	return false
}

func (r *Rencontre) likeProfile(
	ctx context.Context,
	handler InteractionHandler,
	u *discordgo.User,
	ownerID string,
) {
	if u.ID == ownerID {
		_ = handler.Respond(ctx, ephemeralResponse(msgSelfLike))
		return
	}
	if !r.profileExists(ctx, handler, ownerID) {
		return
	}
	settings := r.interactionSettings(ctx)
	if !r.cooldowns.Allow(cooldownLike, u.ID, ownerID, settings.LikeCooldown) {
		remaining := r.cooldowns.Remaining(cooldownLike, u.ID, ownerID)
		_ = handler.Respond(ctx, ephemeralResponse(fmt.Sprintf(msgLikeCooldown, formatWait(remaining))))
		return
	}
	if err := r.store.RecordLike(ctx, u.ID, ownerID); err != nil {
		handler.Logger().ErrorContext(ctx, "error recording like", tint.Err(err))
	}
	_ = handler.Respond(ctx, ephemeralResponse(msgLikeRecorded))
	r.sendLogEmbed(
		ctx,
		"Like",
		fmt.Sprintf("%s a liké %s", userMention(u.ID), userMention(ownerID)),
		u,
		colorLogLike,
	)
}

func (r *Rencontre) passProfile(
	ctx context.Context,
	handler InteractionHandler,
	u *discordgo.User,
	ownerID string,
) {
	if u.ID == ownerID {
		_ = handler.Respond(ctx, ephemeralResponse(msgSelfPass))
		return
	}
	_ = handler.Respond(ctx, ephemeralResponse(msgPassRecorded))
	r.sendLogEmbed(
		ctx,
		"Pass",
		fmt.Sprintf("%s a passé %s", userMention(u.ID), userMention(ownerID)),
		u,
		colorLogPass,
	)
}

func contactModal(ownerID string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: newCustomID(customIDContactModal, ownerID),
			Title:    "💌 Premier message",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:    customIDContactMessage,
							Label:       "Ton message (max 300 caractères)",
							Style:       discordgo.TextInputParagraph,
							Placeholder: "Dis quelque chose de sympa et respectueux 💞",
							Required:    true,
							MaxLength:   discordModalInputMaxLength,
						},
					},
				},
			},
		},
	}
}

func (r *Rencontre) openContactModal(
	ctx context.Context,
	handler InteractionHandler,
	u *discordgo.User,
	ownerID string,
) {
	if u.ID == ownerID {
		_ = handler.Respond(ctx, ephemeralResponse(msgSelfContact))
		return
	}
	if !r.profileExists(ctx, handler, ownerID) {
		return
	}
	settings := r.interactionSettings(ctx)
	if !r.cooldowns.Allow(cooldownContact, u.ID, ownerID, settings.ContactCooldown) {
		remaining := r.cooldowns.Remaining(cooldownContact, u.ID, ownerID)
		_ = handler.Respond(ctx, ephemeralResponse(fmt.Sprintf(msgContactCooldown, formatWait(remaining))))
		return
	}
	_ = handler.Respond(ctx, contactModal(ownerID))
}

// canModerate reports whether the user is a guild administrator or a
// bot owner
func (r *Rencontre) canModerate(ctx context.Context, m *discordgo.Member, userID string) bool {
	if memberHasPermission(m, discordgo.PermissionAdministrator) {
		return true
	}
	owner, err := r.store.IsOwner(ctx, userID)
	if err != nil {
		r.contextLogger(ctx).ErrorContext(ctx, "error checking owner", tint.Err(err))
		return false
	}
	return owner
}

func (r *Rencontre) deleteProfileCard(
	ctx context.Context,
	handler InteractionHandler,
	u *discordgo.User,
	ownerID string,
) {
	i := handler.GetInteraction()
	if u.ID != ownerID && !r.canModerate(ctx, i.Member, u.ID) {
		_ = handler.Respond(ctx, ephemeralResponse(msgDeleteForbidden))
		return
	}
	if err := handler.Respond(ctx, deferredEphemeralResponse()); err != nil {
		return
	}
	content := msgProfileDeleted
	if err := r.fullProfileReset(ctx, ownerID, reasonProfileDeletedButton, true); err != nil {
		content = msgGenericError
	}
	_, _ = handler.Edit(ctx, editContent(content))
}

// modalTextValue returns the value of the text input with the given
// custom ID
func modalTextValue(data discordgo.ModalSubmitInteractionData, customID string) string {
	for _, c := range data.Components {
		var inner []discordgo.MessageComponent
		switch row := c.(type) {
		case *discordgo.ActionsRow:
			inner = row.Components
		case discordgo.ActionsRow:
			inner = row.Components
		default:
			continue
		}
		for _, ic := range inner {
			switch input := ic.(type) {
			case *discordgo.TextInput:
				if input.CustomID == customID {
					return input.Value
				}
			case discordgo.TextInput:
				if input.CustomID == customID {
					return input.Value
				}
			}
		}
	}
	return ""
}

func (r *Rencontre) handleModalSubmit(
	ctx context.Context,
	handler InteractionHandler,
	u *discordgo.User,
) {
	i := handler.GetInteraction()
	data := i.ModalSubmitData()
	action, ownerID := decodeCustomID(data.CustomID)
	logger := handler.Logger().With("custom_id", data.CustomID)

	if action != customIDContactModal {
		logger.WarnContext(ctx, "unknown modal")
		return
	}
	if i.GuildID == "" {
		_ = handler.Respond(ctx, ephemeralResponse(msgGuildOnly))
		return
	}

	content := strings.TrimSpace(modalTextValue(data, customIDContactMessage))
	if content == "" {
		_ = handler.Respond(ctx, ephemeralResponse(msgContactEmpty))
		return
	}
	if _, err := r.discord.guildMember(ctx, ownerID); err != nil {
		logger.WarnContext(ctx, "contact target not found", tint.Err(err))
		_ = handler.Respond(ctx, ephemeralResponse(msgMemberNotFound))
		return
	}

	authorName := memberDisplayName(i.Member)
	if authorName == "" {
		authorName = userDisplayName(u)
	}
	content = truncate(content, discordModalInputMaxLength)
	_, err := r.discord.sendDirectMessage(
		ctx,
		ownerID,
		&discordgo.MessageSend{Content: fmt.Sprintf(contactDMFormat, authorName, content)},
	)
	if err != nil {
		logger.WarnContext(ctx, "contact message not delivered", tint.Err(err))
		_ = handler.Respond(ctx, ephemeralResponse(msgContactNotSent))
		return
	}

	_ = handler.Respond(ctx, ephemeralResponse(msgContactSent))
	r.sendLogEmbed(
		ctx,
		"Contact envoyé",
		fmt.Sprintf(
			"👤 %s → %s\n✉️ “%s”",
			userMention(u.ID),
			userMention(ownerID),
			excerpt(content, contactExcerptLength),
		),
		u,
		colorLogContact,
	)
}
