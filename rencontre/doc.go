// Package rencontre implements Miri Rencontre, a Discord bot for a
// dating space inside a single guild.
//
// Members build a profile through a questionnaire held in direct
// messages. Completed profiles are published as cards in a channel
// picked by gender, where other members can like, pass or contact the
// author through the bot. Admins can run speed dating events, which
// pair members in private threads for a fixed duration.
//
// Main components:
//
//   - Rencontre: owns the lifecycle, from opening the database to
//     graceful shutdown.
//   - SessionManager: the per-user questionnaire state machine.
//   - Scheduler: partitions a roster into groups, opens one conversation
//     per group, then warns and closes them on a timer.
//   - Store: durable state (profiles, cards, roster, bans, owners,
//     settings, speed dating history), implemented with gorm.
//   - Discord: gateway handlers, slash commands and REST calls.
//   - API: health and read-only admin endpoints.
//
// Slash commands:
//
//   - /speeddating start|join|leave|roster|clear
//   - /setcooldown, /rencontre_stats, /rencontreban, /owners
//   - /rencontre_help, /rencontre_info
package rencontre
