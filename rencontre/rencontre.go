package rencontre

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/nxnxha/RnGM/rencontre.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	// cooldownPruneInterval is how often expired like/contact limiters
	// are dropped
	cooldownPruneInterval = 10 * time.Minute

	shutdownAnnouncementInterval = 10 * time.Second
)

// Rencontre is the bot: it owns the discord session, the onboarding
// sessions, the speed dating scheduler, the store and the admin API.
type Rencontre struct {
	config *Config

	// read connection
	db *gorm.DB

	// write wrapper around db, serialized when using sqlite
	writeDB DBI

	store Store

	logger     *slog.Logger
	logHandler slog.Handler

	discord   *Discord
	sessions  *SessionManager
	scheduler *Scheduler
	cooldowns *interactionCooldowns
	api       *API

	// location used to display times in the logs channel
	location *time.Location

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// signalStop triggers a graceful shutdown, ex: from `/api/quit`
	signalStop chan struct{}

	// signalReady receives a value once Run has connected to discord
	// and registered commands
	signalReady chan struct{}

	// eventShutdown receives a value once shutdown finishes
	eventShutdown chan struct{}

	startedAt time.Time

	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler
}

func New(config *Config) (*Rencontre, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	r := &Rencontre{
		config:        config,
		signalStop:    make(chan struct{}, 1),
		signalReady:   make(chan struct{}, 1),
		eventShutdown: make(chan struct{}, 1),
		cooldowns:     newInteractionCooldowns(),
		location:      eventLocation(),
	}

	r.logHandler = newLogHandler(defaultLogWriter, r.config.LogLevel)
	r.logger = slog.New(r.logHandler)
	slog.SetDefault(r.logger)

	r.config.Discord.httpClient = r.config.HTTPClient

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(defaultLogWriter, r.config.Discord.DiscordGoLogLevel).WithAttrs(
			[]slog.Attr{slog.String(loggerNameKey, "discordgo")},
		),
	)
	r.discord = newDiscord(
		r.config.Discord,
		newComponentLogger(r.config.Discord.LogLevel, "discord"),
	)

	r.sessions = NewSessionManager(
		r.config.Onboarding,
		r.logger.With(loggerNameKey, "onboarding"),
	)

	api, err := newAPI(r, config.API)
	errs = append(errs, err)
	r.api = api

	return r, errors.Join(errs...)
}

func (r *Rencontre) ValidateConfig() error {
	return structValidator.Struct(r.config)
}

// RegisterSlashCommands overwrites the guild's slash commands with the
// bot's current set
func (r *Rencontre) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return r.discord.registerCommands(options...)
}

// contextLogger returns the logger set on ctx, or the main logger
func (r *Rencontre) contextLogger(ctx context.Context) *slog.Logger {
	if logger, ok := ContextLogger(ctx); ok && logger != nil {
		return logger
	}
	if r.logger != nil {
		return r.logger
	}
	return slog.Default()
}

// Run opens the database, connects to discord and serves interactions
// until ctx is canceled or a stop signal is received.
func (r *Rencontre) Run(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	if r.signalStop == nil {
		r.signalStop = make(chan struct{}, 1)
	}
	if r.signalReady == nil {
		r.signalReady = make(chan struct{}, 1)
	}

	r.startedAt = time.Now()
	logger := r.logger

	if err := r.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	runtimeWG := &sync.WaitGroup{}

	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", r.config))

	// runtime context, canceled to trigger a graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-r.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			logger.Warn("context canceled")
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, r.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- r.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
		logger.InfoContext(ctx, "init complete")
	}

	if r.config.API.Enabled {
		go func() {
			httpErr := r.api.Serve(ctx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			}
		}()
	}

	if err := r.initDiscordSession(ctx, runtimeWG); err != nil {
		logger.ErrorContext(ctx, "error creating discord session", tint.Err(err))
		return err
	}

	logger.InfoContext(ctx, "connecting to discord")
	if err := r.discord.session.Open(); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}

	if _, err := r.RegisterSlashCommands(discordgo.WithContext(startCtx)); err != nil {
		logger.ErrorContext(ctx, "error registering commands", tint.Err(err))
	}

	r.startSessionSweeper(ctx, runtimeWG)
	r.startCooldownPruner(ctx, runtimeWG)

	select {
	case r.signalReady <- struct{}{}:
		logger.InfoContext(ctx, "sent ready signal")
	default:
	}

	<-ctx.Done()
	return r.shutdown(ctx, runtimeWG)
}

// initRun opens the database and builds the components that depend on
// it, unless they were already provided
func (r *Rencontre) initRun(ctx context.Context) error {
	if r.store == nil {
		if err := r.initDB(ctx); err != nil {
			return fmt.Errorf("error initializing database: %w", err)
		}
	}
	if r.discord.session == nil {
		session, err := r.discord.newSession()
		if err != nil {
			return err
		}
		r.discord.session = session
	}
	if r.scheduler == nil {
		r.scheduler = NewScheduler(
			r.config.SpeedDating,
			r.store,
			discordConversations{session: r.discord.session},
			r.onSpeedReport,
			r.logger.With(loggerNameKey, "speed_dating"),
		)
	}
	last := r.scheduler.LastRunAt(ctx)
	r.logger.InfoContext(ctx, "speed dating clock loaded", "last_run_at", last)
	return nil
}

func (r *Rencontre) initDB(ctx context.Context) error {
	logger := r.contextLogger(ctx)

	handler := newLogHandler(defaultLogWriter, r.config.DatabaseLogLevel)
	gormLogger := newGORMLogger(handler, r.config.DatabaseSlowThreshold)

	logger.Debug("opening database...")
	db, err := openDatabase(ctx, r.config.DatabaseType, r.config.Database, gormLogger)
	if err != nil {
		return err
	}
	logger.Debug("finished opening database")

	r.db = db
	r.writeDB = NewDatabase(db, r.logger, r.config.DatabaseType == dbTypePostgres)
	r.store = NewGormStore(
		r.writeDB,
		r.config.Interactions,
		r.logger.With(loggerNameKey, "store"),
	)
	return nil
}

func (r *Rencontre) initDiscordSession(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	logger := r.logger.With(loggerNameKey, "discord_session")

	if r.discord.session == nil {
		session, err := r.discord.newSession()
		if err != nil {
			return fmt.Errorf("error creating discord session: %w", err)
		}
		r.discord.session = session
	}

	ctx = WithLogger(ctx, logger)

	for _, h := range r.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	r.discord.session.SetIdentify(
		discordgo.Identify{
			Intents: r.config.Discord.GatewayIntents,
			Presence: discordgo.GatewayStatusUpdate{
				Status: string(discordgo.StatusOnline),
			},
		},
	)

	r.discord.discordgoRemoveHandlerFuncs = []func(){
		r.discord.session.AddHandler(r.discord.handlerConnect()),
		r.discord.session.AddHandler(r.discord.handlerDisconnect()),
		r.discord.session.AddHandler(
			r.discord.handlerReady(
				func(_ *discordgo.Ready) {
					runtimeWG.Add(1)
					go func() {
						defer runtimeWG.Done()
						r.onReady(ctx)
					}()
				},
			),
		),
		r.discord.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				handler := r.getInteractionHandlerFunc(ctx, i)
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					r.handleInteraction(ctx, handler)
				}()
			},
		),
		r.discord.session.AddHandler(
			// answers must reach the questionnaire in arrival order, so
			// DMs are handled on the gateway's event goroutine
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				r.handleDirectMessage(ctx, m)
			},
		),
		r.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					r.handleMemberRemove(ctx, m)
				}()
			},
		),
	}

	if r.getInteractionHandlerFunc == nil {
		r.getInteractionHandlerFunc = func(
			_ context.Context,
			i *discordgo.InteractionCreate,
		) InteractionHandler {
			return GatewayHandler{
				session:     r.discord.session,
				interaction: i,
				logger: r.logger.With(
					slog.Group("interaction", interactionLogAttrs(*i)...),
				),
			}
		}
	}
	return nil
}

// onReady runs after each gateway READY: the welcome panel is checked
// and the custom status set
func (r *Rencontre) onReady(ctx context.Context) {
	logger := r.contextLogger(ctx)
	if _, err := r.ensureWelcomePanel(ctx); err != nil {
		logger.ErrorContext(ctx, "error ensuring welcome panel", tint.Err(err))
	}
	if status := r.config.Discord.CustomStatus; status != "" {
		if err := r.discord.session.UpdateCustomStatus(status); err != nil {
			logger.ErrorContext(ctx, "error updating discord status", tint.Err(err))
		}
	}
}

// handleMemberRemove resets the profile of a member who left the guild
func (r *Rencontre) handleMemberRemove(ctx context.Context, m *discordgo.GuildMemberRemove) {
	if m == nil || m.Member == nil || m.User == nil {
		return
	}
	if m.GuildID != r.config.Discord.GuildID {
		return
	}
	defer func() {
		if rc := recover(); rc != nil {
			handleRecover(ctx, rc)
		}
	}()
	ctx = WithLogger(ctx, r.logger.With("user_id", m.User.ID, "event", "guild_member_remove"))
	r.sessions.Cancel(m.User.ID)
	if err := r.fullProfileReset(ctx, m.User.ID, reasonMemberLeft, false); err != nil {
		r.contextLogger(ctx).ErrorContext(ctx, "error resetting profile of departed member", tint.Err(err))
	}
}

// startSessionSweeper expires idle onboarding sessions, letting the user
// know by DM
func (r *Rencontre) startSessionSweeper(ctx context.Context, runtimeWG *sync.WaitGroup) {
	interval := r.config.Onboarding.SweepInterval
	if interval <= 0 {
		interval = DefaultOnboardingSweepInterval
	}
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		r.sessions.Sweep(
			ctx, interval, func(ctx context.Context, userID string) {
				_, err := r.discord.sendDirectMessage(
					ctx,
					userID,
					&discordgo.MessageSend{Content: msgOnboardingExpired},
				)
				if err != nil {
					r.logger.WarnContext(
						ctx,
						"error notifying expired session",
						"user_id", userID,
						tint.Err(err),
					)
				}
			},
		)
	}()
}

func (r *Rencontre) startCooldownPruner(ctx context.Context, runtimeWG *sync.WaitGroup) {
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		ticker := time.NewTicker(cooldownPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.cooldowns.prune(); n > 0 {
					r.logger.DebugContext(ctx, "pruned cooldowns", "count", n)
				}
			}
		}
	}()
}

func (r *Rencontre) shutdown(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	r.logger.WarnContext(ctx, "shutting down")
	defer func() {
		if r.eventShutdown != nil {
			go func() {
				r.eventShutdown <- struct{}{}
			}()
		}
	}()

	shutdownStart := time.Now()
	shutdownDeadline := shutdownStart.Add(r.config.ShutdownTimeout)
	announcementTicker := time.NewTicker(shutdownAnnouncementInterval)
	defer announcementTicker.Stop()

	r.logger.InfoContext(
		ctx,
		"exiting!",
		"shutdown_timeout", r.config.ShutdownTimeout,
		"shutdown_deadline", shutdownDeadline,
	)

	closeCtx, closeCancel := context.WithDeadline(context.Background(), shutdownDeadline)
	defer closeCancel()

	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait()
		r.logger.InfoContext(
			ctx,
			"finished handling in-flight events",
			"runtime_stop_duration", time.Since(shutdownStart),
		)
		stopWG := &sync.WaitGroup{}

		if r.scheduler != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				if err := r.scheduler.CloseAll(closeCtx); err != nil {
					r.logger.ErrorContext(ctx, "error closing speed dating events", tint.Err(err))
				}
			}()
		}

		if r.api != nil && r.api.httpServer != nil && r.config.API.Enabled {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				r.logger.InfoContext(ctx, "stopping http server")
				_ = r.api.httpServer.Shutdown(closeCtx)
				r.logger.InfoContext(ctx, "http server stopped")
			}()
		}

		stopWG.Wait()

		// speed dating closures need the session, so it's closed last
		if r.discord.session != nil {
			r.logger.InfoContext(ctx, "closing discord session")
			_ = r.discord.session.Close()
			for _, h := range r.discord.discordgoRemoveHandlerFuncs {
				h()
			}
			r.discord.discordgoRemoveHandlerFuncs = nil
		}
		gracefulShutdownCh <- struct{}{}
	}()

	for {
		select {
		case <-gracefulShutdownCh:
			r.logger.InfoContext(
				ctx,
				"shutdown complete",
				"shutdown_duration", time.Since(shutdownStart),
			)
			return nil
		case <-announcementTicker.C:
			r.logger.Warn(
				fmt.Sprintf("time until hard shutdown: %s", time.Until(shutdownDeadline).String()),
			)
		case <-closeCtx.Done():
			r.logger.Warn("in-flight work did not stop in time, forcing close")
			if r.api != nil && r.api.httpServer != nil {
				go func() {
					_ = r.api.httpServer.Close()
				}()
			}
			return fmt.Errorf("in-flight work did not stop in time")
		}
	}
}
