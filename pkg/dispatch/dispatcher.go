// Package dispatch routes inbound gateway interactions to their handlers
// through a static routing table, deduplicating re-delivered interactions.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/Jacobbrewer1/sprout/pkg/logging"
)

var (
	// ErrUnknownAction is returned when no route exists for the interaction.
	ErrUnknownAction = errors.New("no handler for action")

	// ErrRateLimited is returned when a guild is over its interaction budget.
	ErrRateLimited = errors.New("guild rate limited")
)

// Processor handles a single routed interaction.
type Processor func(ctx context.Context, i *discordgo.InteractionCreate) error

// Routes is the static routing table, resolved at startup. Commands are keyed
// by command name, components by their custom ID.
type Routes struct {
	Commands   map[string]Processor
	Components map[string]Processor
}

// Dispatcher routes interactions. It is idempotent under at-least-once
// delivery: an interaction ID is reserved before its handler runs, so a
// re-delivery, even a simultaneous one, is dropped instead of re-executing
// the side effect. The reservation is released when the handler fails.
type Dispatcher struct {
	// l is the logger.
	l *slog.Logger

	// routes is the routing table.
	routes Routes

	// seen deduplicates interaction IDs.
	seen *Deduper

	// limiters throttle interactions per guild to absorb panel spam.
	limMu    sync.Mutex
	limiters map[string]*rate.Limiter

	// limit and burst configure new per guild limiters.
	limit rate.Limit
	burst int
}

// NewDispatcher creates a dispatcher over the given routing table.
func NewDispatcher(l *slog.Logger, routes Routes) *Dispatcher {
	return &Dispatcher{
		l:        l.With(slog.String("component", "dispatcher")),
		routes:   routes,
		seen:     NewDeduper(),
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(2), // 2 interactions per second per guild
		burst:    5,
	}
}

// Dispatch resolves and runs the handler for an interaction.
func (d *Dispatcher) Dispatch(ctx context.Context, i *discordgo.InteractionCreate) error {
	action, proc, err := d.resolve(i)
	if err != nil {
		return err
	}

	// The ID is reserved before the handler runs so a simultaneous duplicate
	// delivery cannot run the side effect twice.
	if !d.seen.Acquire(i.ID) {
		d.l.Debug("Dropping re-delivered interaction",
			slog.String(logging.KeyInteraction, i.ID),
			slog.String("action", action),
		)
		return nil
	}

	if !d.limiter(i.GuildID).Allow() {
		d.seen.Release(i.ID)
		return fmt.Errorf("%w: guild %s", ErrRateLimited, i.GuildID)
	}

	if err := proc(ctx, i); err != nil {
		// The reservation is released so a failed delivery may be retried.
		d.seen.Release(i.ID)
		return fmt.Errorf("error processing action %s: %w", action, err)
	}
	return nil
}

// resolve maps the interaction to its action name and processor.
func (d *Dispatcher) resolve(i *discordgo.InteractionCreate) (string, Processor, error) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		name := i.ApplicationCommandData().Name
		proc, ok := d.routes.Commands[name]
		if !ok {
			return name, nil, fmt.Errorf("%w: command %s", ErrUnknownAction, name)
		}
		return name, proc, nil
	case discordgo.InteractionMessageComponent:
		id := i.MessageComponentData().CustomID
		proc, ok := d.routes.Components[id]
		if !ok {
			return id, nil, fmt.Errorf("%w: component %s", ErrUnknownAction, id)
		}
		return id, proc, nil
	default:
		return "", nil, fmt.Errorf("%w: interaction type %d", ErrUnknownAction, i.Type)
	}
}

func (d *Dispatcher) limiter(guildID string) *rate.Limiter {
	d.limMu.Lock()
	defer d.limMu.Unlock()

	lim, ok := d.limiters[guildID]
	if !ok {
		lim = rate.NewLimiter(d.limit, d.burst)
		d.limiters[guildID] = lim
	}
	return lim
}
