package ticketing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Jacobbrewer1/sprout/pkg/entities"
	"github.com/Jacobbrewer1/sprout/pkg/logging"
)

// Registry is the process wide index of tickets. It writes through to the
// backing store on every mutation, so shutdown never has dirty state to lose,
// and keeps an in-memory index for cheap lookups. The registry is passed by
// reference to the components that need it; there is no ambient global.
type Registry struct {
	// l is the logger.
	l *slog.Logger

	// store is the backing ticket store.
	store TicketStore

	// mu guards the in-memory index. Reads take a snapshot and never block
	// ticket mutations.
	mu sync.RWMutex

	// byKey indexes tickets by guild and ticket ID.
	byKey map[string]*entities.Ticket

	// byChannel maps a channel ID to a ticket key.
	byChannel map[string]string
}

// NewRegistry creates a new ticket registry over the given store.
func NewRegistry(l *slog.Logger, store TicketStore) *Registry {
	return &Registry{
		l:         l.With(slog.String(logging.KeyDal, "ticket_registry")),
		store:     store,
		byKey:     make(map[string]*entities.Ticket),
		byChannel: make(map[string]string),
	}
}

// Create persists a brand new ticket and indexes it.
func (r *Registry) Create(ctx context.Context, ticket *entities.Ticket) error {
	ticket.Version = 1
	if err := r.store.InsertTicket(ctx, ticket); err != nil {
		return fmt.Errorf("error inserting ticket: %w", err)
	}

	r.index(ticket)
	return nil
}

// Get gets a ticket by guild and ticket ID. The in-memory index is consulted
// first; a miss falls through to the store so the registry warms itself after
// a restart.
func (r *Registry) Get(ctx context.Context, guildID string, id int) (*entities.Ticket, error) {
	r.mu.RLock()
	t, ok := r.byKey[key(guildID, id)]
	r.mu.RUnlock()
	if ok {
		return t.Clone(), nil
	}

	t, err := r.store.GetTicket(ctx, guildID, id)
	if err != nil {
		return nil, err
	}

	r.index(t)
	return t.Clone(), nil
}

// GetByChannel gets a ticket by the channel it lives in.
func (r *Registry) GetByChannel(ctx context.Context, guildID, channelID string) (*entities.Ticket, error) {
	r.mu.RLock()
	k, ok := r.byChannel[channelID]
	var t *entities.Ticket
	if ok {
		t = r.byKey[k]
	}
	r.mu.RUnlock()
	if t != nil {
		return t.Clone(), nil
	}

	t, err := r.store.GetTicketByChannel(ctx, guildID, channelID)
	if err != nil {
		return nil, err
	}

	r.index(t)
	return t.Clone(), nil
}

// Update commits a mutated ticket. The tickets Version field must be the
// version the mutation was based on; a concurrent writer causes
// ErrVersionConflict and nothing is changed. A state change that is not a
// legal transition from the indexed state is rejected before the store is
// touched, so every commit goes through the transition table.
func (r *Registry) Update(ctx context.Context, ticket *entities.Ticket) error {
	r.mu.RLock()
	prior, ok := r.byKey[ticket.Key()]
	var priorState entities.TicketState
	if ok {
		priorState = prior.State
	}
	r.mu.RUnlock()
	if ok && priorState != ticket.State && !priorState.CanTransition(ticket.State) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, priorState, ticket.State)
	}

	if err := r.store.PutTicketIfVersion(ctx, ticket, ticket.Version); err != nil {
		return err
	}

	ticket.Version++
	r.index(ticket)
	return nil
}

// ListOpenByGuild lists all non-terminal tickets in a guild.
func (r *Registry) ListOpenByGuild(ctx context.Context, guildID string) ([]*entities.Ticket, error) {
	tickets, err := r.store.ListOpenByGuild(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("error listing open tickets: %w", err)
	}
	return tickets, nil
}

// ListOpenByUser lists all non-terminal tickets owned by a user in a guild.
func (r *Registry) ListOpenByUser(ctx context.Context, guildID, userID string) ([]*entities.Ticket, error) {
	tickets, err := r.store.ListOpenByUser(ctx, guildID, userID)
	if err != nil {
		return nil, fmt.Errorf("error listing open tickets for user: %w", err)
	}
	return tickets, nil
}

// OpenCountForUser counts the tickets occupying the users quota slots in a
// guild. Degraded tickets are excluded until they are reconciled.
func (r *Registry) OpenCountForUser(ctx context.Context, guildID, userID string) (int, error) {
	tickets, err := r.ListOpenByUser(ctx, guildID, userID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, t := range tickets {
		if t.CountsTowardsQuota() {
			count++
		}
	}
	return count, nil
}

// Remove deletes a ticket from the store and the index. Only archived
// tickets may be garbage collected.
func (r *Registry) Remove(ctx context.Context, guildID string, id int) error {
	t, err := r.Get(ctx, guildID, id)
	if err != nil {
		return err
	}

	if t.State != entities.StateArchived {
		return fmt.Errorf("%w: cannot remove ticket in state %s", ErrInvalidTransition, t.State)
	}

	if err := r.store.RemoveTicket(ctx, guildID, id); err != nil {
		return fmt.Errorf("error removing ticket: %w", err)
	}

	r.mu.Lock()
	delete(r.byKey, t.Key())
	delete(r.byChannel, t.ChannelID)
	r.mu.Unlock()
	return nil
}

// Close shuts the registry down. All writes go through to the store as they
// happen, so this only drops the in-memory index.
func (r *Registry) Close() {
	r.mu.Lock()
	r.byKey = make(map[string]*entities.Ticket)
	r.byChannel = make(map[string]string)
	r.mu.Unlock()

	r.l.Debug("Ticket registry closed")
}

func (r *Registry) index(ticket *entities.Ticket) {
	c := ticket.Clone()
	r.mu.Lock()
	r.byKey[c.Key()] = c
	if c.ChannelID != "" {
		r.byChannel[c.ChannelID] = c.Key()
	}
	r.mu.Unlock()
}

func key(guildID string, id int) string {
	return fmt.Sprintf("%s:%d", guildID, id)
}
