package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Jacobbrewer1/sprout/cmd/bot/config"
	"github.com/Jacobbrewer1/sprout/cmd/bot/monitoring"
	"github.com/Jacobbrewer1/sprout/pkg/dataaccess"
	"github.com/Jacobbrewer1/sprout/pkg/dispatch"
	"github.com/Jacobbrewer1/sprout/pkg/logging"
	"github.com/Jacobbrewer1/sprout/pkg/platform"
	"github.com/Jacobbrewer1/sprout/pkg/request"
	"github.com/Jacobbrewer1/sprout/pkg/ticketing"
	"github.com/Jacobbrewer1/sprout/pkg/transcript"
)

const (
	// PathMetrics is the path for metrics.
	PathMetrics = "/metrics"

	// PathHealth is the path for the health check.
	PathHealth = "/health"

	// archiveSweepInterval is how often the archive sweep runs.
	archiveSweepInterval = time.Hour
)

// IApp is the interface for the application.
type IApp interface {
	// Session returns the discord session.
	Session() *discordgo.Session

	// Log returns the logger.
	Log() *slog.Logger

	// Machine returns the ticket state machine.
	Machine() *ticketing.Machine

	// Registry returns the ticket registry.
	Registry() *ticketing.Registry

	// GuildDal returns the guild data access layer.
	GuildDal() dataaccess.GuildDal

	// Dispatcher returns the interaction dispatcher.
	Dispatcher() *dispatch.Dispatcher

	// Platform returns the discord platform adapter.
	Platform() *platform.Discord
}

type App struct {
	// is the logger.
	*slog.Logger

	// r is the router for the application.
	r *mux.Router

	// svr is the server for the application.
	svr *http.Server

	// s is the discord session.
	s *discordgo.Session

	// guildDal is the guild data access layer.
	guildDal dataaccess.GuildDal

	// registry is the ticket registry.
	registry *ticketing.Registry

	// machine is the ticket state machine.
	machine *ticketing.Machine

	// dispatcher routes inbound interactions.
	dispatcher *dispatch.Dispatcher

	// platform adapts the discord session to the ticketing collaborators.
	platform *platform.Discord

	// ctx is cancelled on shutdown to stop background work.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates a new instance of App.
func NewApp(l *slog.Logger, r *mux.Router) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		Logger: l,
		r:      r,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (a *App) Run() error {
	// Register bot.
	if err := a.RegisterBot(); err != nil {
		return fmt.Errorf("error registering bot: %w", err)
	}

	// Wire the ticketing core on top of the session and the database.
	a.buildCore()

	a.s.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		a.Info(fmt.Sprintf("Logged in as %s#%s", r.User.Username, r.User.Discriminator))
	})

	if err := a.RegisterDiscordHandlers(); err != nil {
		return fmt.Errorf("error registering discord handlers: %w", err)
	}

	// Open websocket.
	if err := a.s.Open(); err != nil {
		return fmt.Errorf("error opening connection to Discord: %w", err)
	}

	// Register slash commands.
	if err := a.registerSlashCommands(); err != nil {
		return fmt.Errorf("error registering slash commands: %w", err)
	}

	a.Info("Bot is now running.")

	a.generateServer()
	a.setupRoutes()
	a.runServer()

	// Start the archive sweep.
	go a.archiveSweeper()

	// Register listener for shutdown signal.
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	// Process shutdown signal.
	for sig := range c {
		a.Info("Received shutdown signal", slog.String("signal", sig.String()))
		if err := a.ShutdownHook(); err != nil {
			a.Error("Error shutting down application", slog.String(logging.KeyError, err.Error()))
		}
		os.Exit(0)
	}
	return nil
}

func (a *App) ShutdownHook() error {
	// Stop background work first.
	a.cancel()

	// Reset the total number of guilds to 0.
	monitoring.TotalDiscordGuilds.Set(0)

	// Unregister slash commands.
	if err := a.unregisterSlashCommands(); err != nil {
		return fmt.Errorf("error unregistering slash commands: %w", err)
	}

	// Close the connection to Discord.
	if err := a.s.Close(); err != nil {
		return fmt.Errorf("error closing connection to Discord: %w", err)
	}

	// Stop the monitoring server.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.svr.Shutdown(ctx); err != nil {
		a.Warn("Error shutting down monitoring server", slog.String(logging.KeyError, err.Error()))
	}

	// Drop the registry index and disconnect from the store. Every mutation
	// writes through, so there is nothing to flush.
	a.registry.Close()
	if err := dataaccess.MongoDB.Disconnect(ctx); err != nil {
		return fmt.Errorf("error disconnecting from mongo: %w", err)
	}
	return nil
}

func (a *App) RegisterBot() error {
	// Default the number of guilds to 0.
	monitoring.TotalDiscordGuilds.Set(0)

	dg, err := discordgo.New("Bot " + config.BotToken)
	if err != nil {
		return fmt.Errorf("error creating Discord session: %w", err)
	}

	dg.Identify.Intents = discordgo.MakeIntent(discordgo.IntentsAllWithoutPrivileged | discordgo.IntentsGuildMembers)

	a.s = dg
	return nil
}

// buildCore constructs the ticketing core. Called once the database
// connection is up and the session exists.
func (a *App) buildCore() {
	a.guildDal = dataaccess.NewGuildDal(a.Logger)
	ticketDal := dataaccess.NewTicketDal(a.Logger)
	transcriptDal := dataaccess.NewTranscriptDal(a.Logger)

	a.registry = ticketing.NewRegistry(a.Logger, ticketDal)
	a.platform = platform.NewDiscord(a.Logger, a.s)

	generator := transcript.NewGenerator(a.Logger, a.platform, transcriptDal)
	a.machine = ticketing.NewMachine(a.Logger, a.guildDal, a.registry, a.platform, a.platform, generator)

	a.dispatcher = dispatch.NewDispatcher(a.Logger, routes(a))
}

func (a *App) runServer() {
	go func() {
		a.Info("Starting monitoring server")
		if err := a.svr.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Error("Error starting monitoring server", slog.String(logging.KeyError, err.Error()))
			a.Warn("Monitoring server will not be available")
		}
	}()
}

func (a *App) setupRoutes() {
	// PathMetrics is the path for metrics.
	a.r.HandleFunc(PathMetrics, promhttp.Handler().ServeHTTP).Methods(http.MethodGet)

	// PathHealth is the path for health check.
	a.r.HandleFunc(PathHealth, middlewareHttp(a.healthCheck(), a)).Methods(http.MethodGet)

	// NotFoundHandler is the handler for 404.
	a.r.NotFoundHandler = request.NotFoundHandler(a.Logger)

	// MethodNotAllowedHandler is the handler for 405.
	a.r.MethodNotAllowedHandler = request.MethodNotAllowedHandler(a.Logger)
}

func (a *App) generateServer() {
	a.svr = &http.Server{
		Addr:    ":" + config.MonitoringPort,
		Handler: a.r,
	}
}

func (a *App) GetJoinedGuilds() ([]*discordgo.UserGuild, error) {
	guilds, err := a.s.UserGuilds(0, "", "", false)
	if err != nil {
		return nil, fmt.Errorf("error getting guilds: %w", err)
	}
	return guilds, nil
}

func (a *App) RegisterDiscordHandlers() error {
	// Bot joined guild.
	a.s.AddHandler(guildJoinedHandler(a))

	// Bot left guild.
	a.s.AddHandler(guildLeaveHandler(a))

	// Count every raw gateway event.
	a.s.AddHandler(func(_ *discordgo.Session, e *discordgo.Event) {
		if e.Type != "" {
			monitoring.TotalDiscordEvents.WithLabelValues(e.Type).Inc()
		}
	})

	// Interaction create handler; everything funnels through the dispatcher.
	a.s.AddHandler(interactionHandler(a))
	return nil
}

// archiveSweeper periodically archives tickets closed longer ago than the
// configured retention.
func (a *App) archiveSweeper() {
	t := time.NewTicker(archiveSweepInterval)
	defer t.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-t.C:
			n, err := a.machine.ArchiveSweep(a.ctx, config.ArchiveRetention)
			if err != nil {
				a.Error("Error running archive sweep", slog.String(logging.KeyError, err.Error()))
				continue
			}
			if n > 0 {
				monitoring.TicketsArchived.Add(float64(n))
				a.Info("Archive sweep complete", slog.Int("archived", n))
			}
		}
	}
}

func (a *App) registerSlashCommands() error {
	// Get all guilds the bot is in.
	guilds, err := a.GetJoinedGuilds()
	if err != nil {
		return fmt.Errorf("error getting guilds: %w", err)
	}

	// Register slash commands for each guild.
	g := new(errgroup.Group)
	for _, guild := range guilds {
		g.Go(func() error {
			// Register the setup command.
			if _, err := a.Session().ApplicationCommandCreate(config.ApplicationId, guild.ID, setupCmd); err != nil {
				return fmt.Errorf("error creating setup command for guild %s: %w", guild.ID, err)
			}

			// Register the ticket command.
			if _, err := a.Session().ApplicationCommandCreate(config.ApplicationId, guild.ID, ticketCmd); err != nil {
				return fmt.Errorf("error creating ticket command for guild %s: %w", guild.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (a *App) unregisterSlashCommands() error {
	// Get all guilds the bot is in.
	guilds, err := a.GetJoinedGuilds()
	if err != nil {
		return fmt.Errorf("error getting guilds: %w", err)
	}

	// Delete slash commands for each guild.
	for _, guild := range guilds {
		cmds, err := a.s.ApplicationCommands(config.ApplicationId, guild.ID)
		if err != nil {
			return fmt.Errorf("error listing commands for guild %s: %w", guild.ID, err)
		}
		for _, cmd := range cmds {
			if cmd.Name != setupCmdName && cmd.Name != TicketCmdName {
				continue
			}
			if err := a.s.ApplicationCommandDelete(config.ApplicationId, guild.ID, cmd.ID); err != nil {
				return fmt.Errorf("error deleting command %s for guild %s: %w", cmd.Name, guild.ID, err)
			}
		}
	}
	return nil
}

func (a *App) Session() *discordgo.Session {
	return a.s
}

func (a *App) Log() *slog.Logger {
	return a.Logger
}

func (a *App) Machine() *ticketing.Machine {
	return a.machine
}

func (a *App) Registry() *ticketing.Registry {
	return a.registry
}

func (a *App) GuildDal() dataaccess.GuildDal {
	return a.guildDal
}

func (a *App) Platform() *platform.Discord {
	return a.platform
}

func (a *App) Dispatcher() *dispatch.Dispatcher {
	return a.dispatcher
}
