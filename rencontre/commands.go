package rencontre

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"strings"
	"time"
)

const (
	commandSetCooldown  = "setcooldown"
	commandStats        = "rencontre_stats"
	commandBan          = "rencontreban"
	commandOwners       = "owners"
	commandSpeedDating  = "speeddating"
	commandHelp         = "rencontre_help"
	commandInfo         = "rencontre_info"
	subcommandAdd       = "add"
	subcommandRemove    = "remove"
	subcommandList      = "list"
	subcommandStart     = "start"
	subcommandJoin      = "join"
	subcommandLeave     = "leave"
	subcommandRoster    = "roster"
	subcommandClear     = "clear"
	optionType          = "type"
	optionMinutes       = "minutes"
	optionUser          = "user"
	optionReason        = "raison"
	optionParticipants  = "participants"
	optionCouples       = "couples"
	optionDuration      = "duree"
	optionName          = "nom"
	optionDeleteAfter   = "delete_after"
	setCooldownTypeLike = "like"
	setCooldownTypeMsg  = "contact"

	msgAdminOnly             = "❌ Commande réservée aux admins."
	msgNotOrganizer          = "❌ Tu n’es pas autorisé(e) à lancer une soirée."
	msgNoSpeedChannel        = "❌ Salon Speed Dating introuvable (discord.channels.speed_dating)."
	msgNotEnoughParticipants = "⚠️ Il faut au moins 2 participants éligibles."
	msgSpeedCooldown         = "⏳ Une soirée a déjà été lancée récemment. Réessaie dans **%s**."
	msgSpeedStarted          = "✅ **%d** threads créés pour **%s**."
	msgInvalidCooldownType   = "⚠️ Type invalide. Utilise `like` ou `contact`."
	msgCooldownSet           = "✅ Cooldown `%s` mis à **%d min**."
	msgJoinNeedsProfile      = "ℹ️ Crée ton profil avant de t’inscrire aux soirées."
	msgJoined                = "🥂 Tu es inscrit(e) à la prochaine soirée speed dating !"
	msgAlreadyJoined         = "ℹ️ Tu es déjà inscrit(e)."
	msgLeft                  = "👋 Tu es désinscrit(e) de la prochaine soirée."
	msgNotJoined             = "ℹ️ Tu n’étais pas inscrit(e)."
	msgRosterEmpty           = "Aucun inscrit pour le moment."
	msgRosterCleared         = "🧹 Liste vidée (%d inscrit(s) retiré(s))."
)

var (
	adminPermission     int64 = discordgo.PermissionAdministrator
	minCooldownMinutes        = 1.0
	minSpeedDatingPairs       = 1.0
)

type commandHandlerFunc func(
	ctx context.Context,
	handler InteractionHandler,
	u *discordgo.User,
)

func userOption(description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        optionUser,
		Description: description,
		Required:    required,
	}
}

// appCommands returns the slash commands registered in the guild
func appCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:                     commandSetCooldown,
			Description:              "Modifier le cooldown des interactions (admin)",
			DefaultMemberPermissions: &adminPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        optionType,
					Description: "like ou contact",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: setCooldownTypeLike, Value: setCooldownTypeLike},
						{Name: setCooldownTypeMsg, Value: setCooldownTypeMsg},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        optionMinutes,
					Description: "durée en minutes (min 1)",
					Required:    true,
					MinValue:    &minCooldownMinutes,
				},
			},
		},
		{
			Name:                     commandStats,
			Description:              "📊 Statistiques de l’Espace Rencontre (admin)",
			DefaultMemberPermissions: &adminPermission,
		},
		{
			Name:        commandBan,
			Description: "Gérer l'accès Rencontre (admin)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subcommandAdd,
					Description: "🚫 Bannir un membre de la Rencontre",
					Options: []*discordgo.ApplicationCommandOption{
						userOption("Membre à bannir", true),
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        optionReason,
							Description: "Raison du ban",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subcommandRemove,
					Description: "✅ Débannir un membre",
					Options:     []*discordgo.ApplicationCommandOption{userOption("Membre à débannir", true)},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subcommandList,
					Description: "Voir la liste des bannis",
				},
			},
		},
		{
			Name:        commandOwners,
			Description: "Gérer les propriétaires du bot",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subcommandAdd,
					Description: "Ajouter un owner (admin)",
					Options:     []*discordgo.ApplicationCommandOption{userOption("Nouvel owner", true)},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subcommandRemove,
					Description: "Retirer un owner (admin)",
					Options:     []*discordgo.ApplicationCommandOption{userOption("Owner à retirer", true)},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subcommandList,
					Description: "Lister les owners",
				},
			},
		},
		{
			Name:        commandSpeedDating,
			Description: "Soirées speed dating en threads privés",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subcommandStart,
					Description: "Lancer une soirée (participants via mentions, sinon les inscrits)",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        optionParticipants,
							Description: "Mentionne les participants (ex: @a @b @c …)",
						},
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        optionCouples,
							Description: "Nombre maximum de couples (paires) à créer",
							MinValue:    &minSpeedDatingPairs,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        optionDuration,
							Description: "Durée : ex 20m, 30m, 1h, 1h30…",
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        optionName,
							Description: "Nom d’événement (préfixe des threads)",
						},
						{
							Type:        discordgo.ApplicationCommandOptionBoolean,
							Name:        optionDeleteAfter,
							Description: "Supprimer les threads à la fin",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subcommandJoin,
					Description: "S’inscrire à la prochaine soirée",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subcommandLeave,
					Description: "Se désinscrire de la prochaine soirée",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subcommandRoster,
					Description: "Voir les inscrits",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        subcommandClear,
					Description: "Vider la liste des inscrits",
				},
			},
		},
		{
			Name:        commandHelp,
			Description: "Affiche l’aide du bot Rencontre",
		},
		{
			Name:        commandInfo,
			Description: "📖 Infos publiques de l’Espace Rencontre",
		},
	}
}

func (r *Rencontre) commandHandlers() map[string]commandHandlerFunc {
	return map[string]commandHandlerFunc{
		commandSetCooldown: r.commandSetCooldown,
		commandStats:       r.commandStats,
		commandBan:         r.commandBan,
		commandOwners:      r.commandOwners,
		commandSpeedDating: r.commandSpeedDating,
		commandHelp:        r.commandHelp,
		commandInfo:        r.commandInfo,
	}
}

func (r *Rencontre) handleCommand(
	ctx context.Context,
	handler InteractionHandler,
	u *discordgo.User,
) {
	i := handler.GetInteraction()
	name := i.ApplicationCommandData().Name
	f, ok := r.commandHandlers()[name]
	if !ok {
		handler.Logger().WarnContext(ctx, "unknown command", "command", name)
		return
	}
	if i.GuildID == "" {
		_ = handler.Respond(ctx, ephemeralResponse(msgGuildOnly))
		return
	}
	f(ctx, handler, u)
}

// resolvedUser returns the user ID of a user option, and the best
// display name found in the interaction's resolved data
func resolvedUser(
	i *discordgo.InteractionCreate,
	opt *discordgo.ApplicationCommandInteractionDataOption,
) (string, string) {
	userID := fmt.Sprint(opt.Value)
	resolved := i.ApplicationCommandData().Resolved
	if resolved == nil {
		return userID, userID
	}
	if m, ok := resolved.Members[userID]; ok && m != nil && m.Nick != "" {
		return userID, m.Nick
	}
	if u, ok := resolved.Users[userID]; ok && u != nil {
		return userID, userDisplayName(u)
	}
	return userID, userID
}

func (r *Rencontre) requireAdmin(
	ctx context.Context,
	handler InteractionHandler,
) bool {
	if memberHasPermission(handler.GetInteraction().Member, discordgo.PermissionAdministrator) {
		return true
	}
	_ = handler.Respond(ctx, ephemeralResponse(msgAdminOnly))
	return false
}

func (r *Rencontre) commandSetCooldown(
	ctx context.Context,
	handler InteractionHandler,
	u *discordgo.User,
) {
	if !r.requireAdmin(ctx, handler) {
		return
	}
	_, opts := discordInteractionOptions(handler.GetInteraction())
	var kind string
	if o, ok := opts[optionType]; ok {
		kind = strings.ToLower(o.StringValue())
	}
	var minutes int64 = 1
	if o, ok := opts[optionMinutes]; ok {
		minutes = max(1, o.IntValue())
	}
	d := time.Duration(minutes) * time.Minute

	var err error
	switch kind {
	case setCooldownTypeLike:
		err = r.store.SetLikeCooldown(ctx, d)
	case setCooldownTypeMsg:
		err = r.store.SetContactCooldown(ctx, d)
	default:
		_ = handler.Respond(ctx, ephemeralResponse(msgInvalidCooldownType))
		return
	}
	if err != nil {
		handler.Logger().ErrorContext(ctx, "error saving cooldown", tint.Err(err))
		_ = handler.Respond(ctx, ephemeralResponse(msgGenericError))
		return
	}
	_ = handler.Respond(ctx, ephemeralResponse(fmt.Sprintf(msgCooldownSet, kind, minutes)))
	r.sendLogEmbed(
		ctx,
		"Configuration modifiée",
		fmt.Sprintf("%s a mis `%s` à **%d min**.", userMention(u.ID), kind, minutes),
		u,
		colorLogConfig,
	)
}

func (r *Rencontre) commandStats(
	ctx context.Context,
	handler InteractionHandler,
	_ *discordgo.User,
) {
	if !r.requireAdmin(ctx, handler) {
		return
	}
	st, err := r.store.Stats(ctx)
	if err != nil {
		handler.Logger().ErrorContext(ctx, "error getting stats", tint.Err(err))
		_ = handler.Respond(ctx, ephemeralResponse(msgGenericError))
		return
	}
	settings := r.interactionSettings(ctx)
	e := &discordgo.MessageEmbed{
		Title:       "📊 Statistiques — Miri Rencontre",
		Description: "Aperçu global 💞",
		Color:       brandColor,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "👥 Profils",
				Value: fmt.Sprintf(
					"• Total : **%d**\n• Publiés : **%d**\n• Bannis : **%d**",
					st.Profiles,
					st.Published,
					st.Bans,
				),
			},
			{
				Name: "⚙️ Paramètres",
				Value: fmt.Sprintf(
					"• ❤️ Like : **%d min**\n• 💌 Contact : **%d min**",
					int(settings.LikeCooldown/time.Minute),
					int(settings.ContactCooldown/time.Minute),
				),
			},
			{
				Name: "🥂 Speed dating",
				Value: fmt.Sprintf(
					"• Inscrits : **%d**\n• Likes : **%d**",
					st.Roster,
					st.Likes,
				),
			},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "Miri Rencontre • Dashboard Admin"},
	}
	_ = handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{e},
				Flags:  discordgo.MessageFlagsEphemeral,
			},
		},
	)
}

func (r *Rencontre) commandBan(
	ctx context.Context,
	handler InteractionHandler,
	u *discordgo.User,
) {
	i := handler.GetInteraction()
	subcommand, opts := discordInteractionOptions(i)
	logger := handler.Logger().With("subcommand", subcommand)

	if subcommand == subcommandList {
		bans, err := r.store.ListBans(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "error listing bans", tint.Err(err))
			_ = handler.Respond(ctx, ephemeralResponse(msgGenericError))
			return
		}
		if len(bans) == 0 {
			_ = handler.Respond(ctx, ephemeralResponse("Aucun membre banni."))
			return
		}
		mentions := make([]string, 0, len(bans))
		for _, b := range bans {
			mentions = append(mentions, userMention(b.UserID))
		}
		_ = handler.Respond(
			ctx,
			ephemeralResponse(truncate("**Bannis Rencontre :** "+strings.Join(mentions, ", "), 2000)),
		)
		return
	}

	if !r.requireAdmin(ctx, handler) {
		return
	}
	opt, ok := opts[optionUser]
	if !ok {
		_ = handler.Respond(ctx, ephemeralResponse(msgGenericError))
		return
	}
	targetID, targetName := resolvedUser(i, opt)

	switch subcommand {
	case subcommandAdd:
		var reason string
		if o, found := opts[optionReason]; found {
			reason = o.StringValue()
		}
		if err := handler.Respond(ctx, deferredEphemeralResponse()); err != nil {
			return
		}
		if err := r.store.Ban(ctx, targetID, reason, u.ID); err != nil {
			logger.ErrorContext(ctx, "error banning user", tint.Err(err))
			_, _ = handler.Edit(ctx, editContent(msgGenericError))
			return
		}
		r.sessions.Cancel(targetID)
		if err := r.fullProfileReset(ctx, targetID, reasonBanned, true); err != nil {
			logger.ErrorContext(ctx, "error resetting banned user's profile", tint.Err(err))
		}
		_, _ = handler.Edit(ctx, editContent(fmt.Sprintf("🚫 **%s** banni de la Rencontre.", targetName)))
		details := fmt.Sprintf("%s a banni %s", userMention(u.ID), userMention(targetID))
		if reason != "" {
			details += "\nRaison : " + reason
		}
		r.sendLogEmbed(ctx, "Ban Rencontre", details, u, colorLogBan)
	case subcommandRemove:
		if _, err := r.store.Unban(ctx, targetID); err != nil {
			logger.ErrorContext(ctx, "error unbanning user", tint.Err(err))
			_ = handler.Respond(ctx, ephemeralResponse(msgGenericError))
			return
		}
		_ = handler.Respond(ctx, ephemeralResponse(fmt.Sprintf("✅ **%s** débanni.", targetName)))
	default:
		logger.WarnContext(ctx, "unknown subcommand")
	}
}

func (r *Rencontre) commandOwners(
	ctx context.Context,
	handler InteractionHandler,
	u *discordgo.User,
) {
	i := handler.GetInteraction()
	subcommand, opts := discordInteractionOptions(i)
	logger := handler.Logger().With("subcommand", subcommand)

	if subcommand == subcommandList {
		owners, err := r.store.ListOwners(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "error listing owners", tint.Err(err))
			_ = handler.Respond(ctx, ephemeralResponse(msgGenericError))
			return
		}
		if len(owners) == 0 {
			_ = handler.Respond(ctx, ephemeralResponse("Aucun owner défini."))
			return
		}
		mentions := make([]string, 0, len(owners))
		for _, o := range owners {
			mentions = append(mentions, userMention(o.UserID))
		}
		_ = handler.Respond(ctx, ephemeralResponse("**Owners :** "+strings.Join(mentions, ", ")))
		return
	}

	if !r.requireAdmin(ctx, handler) {
		return
	}
	opt, ok := opts[optionUser]
	if !ok {
		_ = handler.Respond(ctx, ephemeralResponse(msgGenericError))
		return
	}
	targetID, targetName := resolvedUser(i, opt)

	switch subcommand {
	case subcommandAdd:
		if err := r.store.AddOwner(ctx, targetID, u.ID); err != nil {
			logger.ErrorContext(ctx, "error adding owner", tint.Err(err))
			_ = handler.Respond(ctx, ephemeralResponse(msgGenericError))
			return
		}
		_ = handler.Respond(ctx, ephemeralResponse(fmt.Sprintf("✅ **%s** ajouté comme owner.", targetName)))
	case subcommandRemove:
		if _, err := r.store.RemoveOwner(ctx, targetID); err != nil {
			logger.ErrorContext(ctx, "error removing owner", tint.Err(err))
			_ = handler.Respond(ctx, ephemeralResponse(msgGenericError))
			return
		}
		_ = handler.Respond(ctx, ephemeralResponse(fmt.Sprintf("🗑️ **%s** retiré des owners.", targetName)))
	default:
		logger.WarnContext(ctx, "unknown subcommand")
	}
}

// canOrganize reports whether the member may start or reset speed
// dating runs: administrators, channel managers and bot owners
func (r *Rencontre) canOrganize(ctx context.Context, m *discordgo.Member, userID string) bool {
	if memberHasPermission(m, discordgo.PermissionManageChannels) {
		return true
	}
	return r.canModerate(ctx, m, userID)
}

func (r *Rencontre) commandSpeedDating(
	ctx context.Context,
	handler InteractionHandler,
	u *discordgo.User,
) {
	subcommand, opts := discordInteractionOptions(handler.GetInteraction())
	ctx = WithLogger(ctx, handler.Logger().With("subcommand", subcommand))

	switch subcommand {
	case subcommandStart:
		r.speedDatingStart(ctx, handler, u, opts)
	case subcommandJoin:
		r.speedDatingJoin(ctx, handler, u)
	case subcommandLeave:
		r.speedDatingLeave(ctx, handler, u)
	case subcommandRoster:
		r.speedDatingRoster(ctx, handler)
	case subcommandClear:
		r.speedDatingClear(ctx, handler, u)
	default:
		handler.Logger().WarnContext(ctx, "unknown subcommand", "subcommand", subcommand)
	}
}

// eligibleParticipants drops banned users, bots and anyone who isn't a
// guild member, and returns the remaining IDs with their display names
func (r *Rencontre) eligibleParticipants(
	ctx context.Context,
	userIDs []string,
) ([]string, map[string]string) {
	logger := r.contextLogger(ctx)
	eligible := make([]string, 0, len(userIDs))
	names := make(map[string]string, len(userIDs))
	for _, userID := range dedupe(userIDs) {
		banned, err := r.store.IsBanned(ctx, userID)
		if err != nil {
			logger.WarnContext(ctx, "error checking ban, skipping participant", "user_id", userID, tint.Err(err))
			continue
		}
		if banned {
			continue
		}
		m, err := r.discord.guildMember(ctx, userID)
		if err != nil {
			logger.InfoContext(ctx, "participant not found in guild", "user_id", userID, tint.Err(err))
			continue
		}
		if m.User != nil && m.User.Bot {
			continue
		}
		eligible = append(eligible, userID)
		names[userID] = memberDisplayName(m)
	}
	return eligible, names
}

func (r *Rencontre) speedDatingStart(
	ctx context.Context,
	handler InteractionHandler,
	u *discordgo.User,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
) {
	logger := r.contextLogger(ctx)
	i := handler.GetInteraction()
	if !r.canOrganize(ctx, i.Member, u.ID) {
		_ = handler.Respond(ctx, ephemeralResponse(msgNotOrganizer))
		return
	}
	cfg := r.config.SpeedDating
	parentID := r.config.Discord.Channels.SpeedDating
	if parentID == "" {
		_ = handler.Respond(ctx, ephemeralResponse(msgNoSpeedChannel))
		return
	}
	if err := handler.Respond(ctx, deferredEphemeralResponse()); err != nil {
		return
	}

	var candidates []string
	if o, ok := opts[optionParticipants]; ok && strings.TrimSpace(o.StringValue()) != "" {
		candidates = parseMentions(o.StringValue())
	} else {
		roster, err := r.store.GetRoster(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "error getting roster", tint.Err(err))
			_, _ = handler.Edit(ctx, editContent(msgGenericError))
			return
		}
		candidates = roster
	}

	duration := cfg.DefaultDuration
	if o, ok := opts[optionDuration]; ok {
		duration = parseEventDuration(o.StringValue())
	}
	maxGroups := cfg.MaxGroups
	if o, ok := opts[optionCouples]; ok {
		maxGroups = int(max(1, o.IntValue()))
	}
	prefix := cfg.NamePrefix
	if o, ok := opts[optionName]; ok && strings.TrimSpace(o.StringValue()) != "" {
		prefix = strings.TrimSpace(o.StringValue())
	}
	deleteAfter := cfg.DeleteAfter
	if o, ok := opts[optionDeleteAfter]; ok {
		deleteAfter = o.BoolValue()
	}

	eligible, names := r.eligibleParticipants(ctx, candidates)

	event, err := r.scheduler.Start(
		ctx, RunRequest{
			Roster:       eligible,
			GroupSize:    cfg.GroupSize,
			MaxGroups:    maxGroups,
			Duration:     duration,
			RequestedBy:  u.ID,
			ParentID:     parentID,
			NamePrefix:   prefix,
			Delete:       deleteAfter,
			DisplayNames: names,
		},
	)
	var cooldownErr *CooldownError
	switch {
	case errors.As(err, &cooldownErr):
		_, _ = handler.Edit(
			ctx,
			editContent(fmt.Sprintf(msgSpeedCooldown, formatWait(cooldownErr.Remaining))),
		)
		return
	case errors.Is(err, ErrNotEnoughParticipants):
		_, _ = handler.Edit(ctx, editContent(msgNotEnoughParticipants))
		return
	case err != nil:
		logger.ErrorContext(ctx, "error starting speed dating", tint.Err(err))
		_, _ = handler.Edit(ctx, editContent(msgGenericError))
		return
	}

	niceDuration := formatEventDuration(event.Duration)
	_, _ = handler.Edit(
		ctx,
		editContent(fmt.Sprintf(msgSpeedStarted, len(event.Conversations), niceDuration)),
	)
	r.sendLogEmbed(
		ctx,
		"Speed dating lancé",
		fmt.Sprintf(
			"%s a lancé une soirée de **%s** : **%d** threads, **%d** sans binôme.",
			userMention(u.ID),
			niceDuration,
			len(event.Conversations),
			len(event.Unpaired),
		),
		u,
		colorSpeedReport,
	)
}

func (r *Rencontre) speedDatingJoin(
	ctx context.Context,
	handler InteractionHandler,
	u *discordgo.User,
) {
	logger := r.contextLogger(ctx)
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
	if _, err = r.store.GetProfile(ctx, u.ID); err != nil {
		if !errors.Is(err, ErrProfileNotFound) {
			logger.ErrorContext(ctx, "error getting profile", tint.Err(err))
		}
		_ = handler.Respond(ctx, ephemeralResponse(msgJoinNeedsProfile))
		return
	}
	added, err := r.store.AddToRoster(ctx, u.ID)
	if err != nil {
		logger.ErrorContext(ctx, "error adding to roster", tint.Err(err))
		_ = handler.Respond(ctx, ephemeralResponse(msgGenericError))
		return
	}
	if !added {
		_ = handler.Respond(ctx, ephemeralResponse(msgAlreadyJoined))
		return
	}
	_ = handler.Respond(ctx, ephemeralResponse(msgJoined))
}

func (r *Rencontre) speedDatingLeave(
	ctx context.Context,
	handler InteractionHandler,
	u *discordgo.User,
) {
	removed, err := r.store.RemoveFromRoster(ctx, u.ID)
	if err != nil {
		r.contextLogger(ctx).ErrorContext(ctx, "error removing from roster", tint.Err(err))
		_ = handler.Respond(ctx, ephemeralResponse(msgGenericError))
		return
	}
	if !removed {
		_ = handler.Respond(ctx, ephemeralResponse(msgNotJoined))
		return
	}
	_ = handler.Respond(ctx, ephemeralResponse(msgLeft))
}

func (r *Rencontre) speedDatingRoster(ctx context.Context, handler InteractionHandler) {
	roster, err := r.store.GetRoster(ctx)
	if err != nil {
		r.contextLogger(ctx).ErrorContext(ctx, "error getting roster", tint.Err(err))
		_ = handler.Respond(ctx, ephemeralResponse(msgGenericError))
		return
	}
	if len(roster) == 0 {
		_ = handler.Respond(ctx, ephemeralResponse(msgRosterEmpty))
		return
	}
	mentions := make([]string, 0, len(roster))
	for _, userID := range roster {
		mentions = append(mentions, userMention(userID))
	}
	_ = handler.Respond(
		ctx,
		ephemeralResponse(
			truncate(fmt.Sprintf("**Inscrits (%d) :** %s", len(roster), strings.Join(mentions, ", ")), 2000),
		),
	)
}

func (r *Rencontre) speedDatingClear(
	ctx context.Context,
	handler InteractionHandler,
	u *discordgo.User,
) {
	if !r.canOrganize(ctx, handler.GetInteraction().Member, u.ID) {
		_ = handler.Respond(ctx, ephemeralResponse(msgNotOrganizer))
		return
	}
	n, err := r.store.ClearRoster(ctx)
	if err != nil {
		r.contextLogger(ctx).ErrorContext(ctx, "error clearing roster", tint.Err(err))
		_ = handler.Respond(ctx, ephemeralResponse(msgGenericError))
		return
	}
	_ = handler.Respond(ctx, ephemeralResponse(fmt.Sprintf(msgRosterCleared, n)))
}

func (r *Rencontre) commandHelp(
	ctx context.Context,
	handler InteractionHandler,
	_ *discordgo.User,
) {
	e := &discordgo.MessageEmbed{
		Title:       "🌹 Aide — Miri Rencontre",
		Description: "Commandes principales et rôles requis.",
		Color:       brandColor,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "👤 Utilisateurs",
				Value: "• Bouton **✨ Créer mon profil** dans le panneau d’accueil\n" +
					"• Interagir avec les profils via ❤️ / ❌ / 📩 / 🗑️\n" +
					"• `/speeddating join|leave|roster` — soirées speed dating\n" +
					"• `/rencontre_info` — infos publiques",
			},
			{
				Name: "🛠️ Admins",
				Value: "• `/speeddating start participants:<mentions> couples:<n> duree:<ex 30m> nom:<txt> delete_after:<bool>`\n" +
					"• `/speeddating clear`\n" +
					"• `/setcooldown like|contact <minutes>`\n" +
					"• `/rencontre_stats`\n" +
					"• `/rencontreban add/remove/list`\n" +
					"• `/owners add/remove/list`",
			},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "Miri Rencontre • Laissez la magie opérer ✨"},
	}
	_ = handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{e},
				Flags:  discordgo.MessageFlagsEphemeral,
			},
		},
	)
}

func (r *Rencontre) commandInfo(
	ctx context.Context,
	handler InteractionHandler,
	_ *discordgo.User,
) {
	st, err := r.store.Stats(ctx)
	if err != nil {
		handler.Logger().ErrorContext(ctx, "error getting stats", tint.Err(err))
		_ = handler.Respond(ctx, ephemeralResponse(msgGenericError))
		return
	}
	e := &discordgo.MessageEmbed{
		Title:       "🌹 Miri Rencontre — Informations",
		Description: "✨ L’Espace Rencontre est ouvert à ceux qui cherchent de vraies connexions 💞",
		Color:       brandColor,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "💬 Activité",
				Value: fmt.Sprintf(
					"• Profils enregistrés : **%d**\n• Profils publiés : **%d**\n• Taux d’activité : **%s%%**",
					st.Profiles,
					st.Published,
					formatPercent(st.PublishedPercent()),
				),
			},
			{Name: "🕊️ Modération", Value: "Respect & bienveillance 🛡️"},
		},
		Footer: &discordgo.MessageEmbedFooter{Text: "Miri Rencontre • Ensemble, ça matche ✨"},
	}
	_ = handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{e}},
		},
	)
}

// formatPercent drops a trailing ".0", so 50.0 is "50" and 33.3 is "33.3"
func formatPercent(v float64) string {
	s := fmt.Sprintf("%.1f", v)
	return strings.TrimSuffix(s, ".0")
}
