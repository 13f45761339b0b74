package ticketing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jacobbrewer1/sprout/pkg/custom"
	"github.com/Jacobbrewer1/sprout/pkg/entities"
	"github.com/Jacobbrewer1/sprout/pkg/logging"
)

const (
	// defaultIOTimeout is the deadline applied to every external call made by
	// the state machine.
	defaultIOTimeout = 10 * time.Second
)

// Actor is the user performing a transition.
type Actor struct {
	// UserID is the ID of the user.
	UserID string

	// Username is the username of the user.
	Username string

	// RoleIDs are the IDs of the roles the user holds in the guild.
	RoleIDs []string
}

// Machine drives ticket state transitions. Mutations on the same ticket are
// serialized by a per-ticket lock; the lock is never held across a Discord
// call, only across store writes. The pattern for every transition is
// acquire, validate, release, perform I/O, re-acquire, commit.
type Machine struct {
	// l is the logger.
	l *slog.Logger

	// guilds is the guild configuration store.
	guilds GuildStore

	// reg is the ticket registry.
	reg *Registry

	// channels provisions and tears down ticket channels.
	channels ChannelService

	// notifier posts panel, control and confirmation messages.
	notifier Notifier

	// transcripts generates transcripts at close.
	transcripts TranscriptService

	// locks serializes mutations per ticket, and per user for creation.
	locks *keyedMutex

	// ioTimeout is the deadline for external calls.
	ioTimeout time.Duration
}

// NewMachine creates a new ticket state machine.
func NewMachine(l *slog.Logger, guilds GuildStore, reg *Registry, channels ChannelService, notifier Notifier, transcripts TranscriptService) *Machine {
	return &Machine{
		l:           l.With(slog.String("component", "ticket_machine")),
		guilds:      guilds,
		reg:         reg,
		channels:    channels,
		notifier:    notifier,
		transcripts: transcripts,
		locks:       newKeyedMutex(),
		ioTimeout:   defaultIOTimeout,
	}
}

// config loads the ticketing configuration for a guild, mapping an absent or
// disabled configuration to ErrNotConfigured.
func (m *Machine) config(ctx context.Context, guildID string) (*entities.Guild, error) {
	guild, err := m.guilds.GetGuildByID(ctx, guildID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotConfigured
		}
		return nil, fmt.Errorf("error getting guild configuration: %w", err)
	}
	if !guild.Ticketing.Enabled {
		return nil, ErrNotConfigured
	}
	return guild, nil
}

// ioCtx derives a context with the external call deadline applied.
func (m *Machine) ioCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.ioTimeout)
}

// wrapTimeout maps a context deadline failure to ErrTimeout so callers can
// tell a safe-to-retry timeout apart from a hard failure.
func wrapTimeout(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, err)
	}
	return err
}

// ownerOrStaff reports whether the actor owns the ticket or holds a staff
// role.
func ownerOrStaff(ticket *entities.Ticket, guild *entities.Guild, actor Actor) bool {
	return actor.UserID == ticket.UserID || guild.IsStaff(actor.RoleIDs)
}

// Create opens a new ticket for the owner: allocates an ID, provisions a
// private channel and posts the control message. Fails with ErrNotConfigured
// when ticketing is not set up and ErrQuotaExceeded when the owner is at the
// guilds open ticket limit.
//
// The quota is checked under the owners creation lock, the channel is
// provisioned with the lock released, and the quota is re-checked on
// re-acquire before the ticket is committed. A commit failure rolls the
// channel back so a half-created ticket is never left behind.
func (m *Machine) Create(ctx context.Context, guildID string, owner Actor) (*entities.Ticket, error) {
	guild, err := m.config(ctx, guildID)
	if err != nil {
		return nil, err
	}

	createKey := fmt.Sprintf("create:%s:%s", guildID, owner.UserID)

	unlock := m.locks.Lock(createKey)
	count, err := m.reg.OpenCountForUser(ctx, guildID, owner.UserID)
	if err != nil {
		unlock()
		return nil, err
	}
	if count >= guild.Ticketing.MaxOpen() {
		unlock()
		return nil, ErrQuotaExceeded
	}

	id, err := m.reg.store.NextTicketID(ctx, guildID)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("error allocating ticket id: %w", err)
	}
	unlock()

	ticket := &entities.Ticket{
		ID:        id,
		GuildID:   guildID,
		UserID:    owner.UserID,
		Username:  owner.Username,
		State:     entities.StateOpen,
		CreatedAt: custom.Now(),
	}

	// Provision the channel with no locks held.
	ioCtx, cancel := m.ioCtx(ctx)
	channelID, err := m.channels.CreateTicketChannel(ioCtx, guildID, guild.Ticketing.TicketsCategoryID,
		ticket.Name(), fmt.Sprintf("Ticket opened by %s", owner.Username), owner.UserID, guild.Ticketing.StaffRoleIDs)
	cancel()
	if err != nil {
		return nil, wrapTimeout(fmt.Errorf("error creating ticket channel: %w", err))
	}
	ticket.ChannelID = channelID

	unlock = m.locks.Lock(createKey)
	defer unlock()

	// Re-check the quota: another create for the same owner may have
	// committed while the channel was being provisioned.
	count, err = m.reg.OpenCountForUser(ctx, guildID, owner.UserID)
	if err == nil && count >= guild.Ticketing.MaxOpen() {
		err = ErrQuotaExceeded
	}
	if err == nil {
		err = m.reg.Create(ctx, ticket)
	}
	if err != nil {
		if rbErr := m.rollbackChannel(ctx, ticket); rbErr != nil {
			return nil, fmt.Errorf("%w: %s", ErrDegraded, err)
		}
		return nil, err
	}

	// Post and pin the control message. A failure here leaves a usable ticket
	// without buttons, so it is logged rather than failing the create.
	ioCtx, cancel = m.ioCtx(ctx)
	msgID, msgErr := m.notifier.PostTicketControls(ioCtx, channelID, ticket, guild.Ticketing.Priorities())
	cancel()
	if msgErr != nil {
		m.l.Error("Error posting ticket controls",
			slog.String(logging.KeyGuild, guildID),
			slog.Int(logging.KeyTicket, ticket.ID),
			slog.String(logging.KeyError, msgErr.Error()),
		)
		return ticket, nil
	}

	ticket.ControlMessageID = msgID
	if err := m.reg.Update(ctx, ticket); err != nil {
		m.l.Error("Error saving control message id",
			slog.String(logging.KeyGuild, guildID),
			slog.Int(logging.KeyTicket, ticket.ID),
			slog.String(logging.KeyError, err.Error()),
		)
	}
	return ticket, nil
}

// rollbackChannel deletes the channel created for a ticket whose commit
// failed. If the delete itself fails the ticket is persisted as degraded so
// the orphan is visible for manual reconciliation; a half-created ticket is
// never silent. Returns non-nil when the ticket was left degraded.
func (m *Machine) rollbackChannel(ctx context.Context, ticket *entities.Ticket) error {
	ioCtx, cancel := m.ioCtx(ctx)
	defer cancel()

	err := m.channels.DeleteChannel(ioCtx, ticket.ChannelID)
	if err == nil {
		return nil
	}
	m.l.Error("Error rolling back ticket channel",
		slog.String(logging.KeyGuild, ticket.GuildID),
		slog.Int(logging.KeyTicket, ticket.ID),
		slog.String(logging.KeyChannel, ticket.ChannelID),
		slog.String(logging.KeyError, err.Error()),
	)

	ticket.Degraded = true
	if createErr := m.reg.Create(ctx, ticket); createErr != nil {
		m.l.Error("Error recording degraded ticket",
			slog.String(logging.KeyGuild, ticket.GuildID),
			slog.Int(logging.KeyTicket, ticket.ID),
			slog.String(logging.KeyError, createErr.Error()),
		)
	}
	return err
}

// Claim assigns the acting staff member as the tickets responder. Legal from
// Open or an unclaimed Claimed state. Reclaiming by the current claimant is
// idempotent; a different claimant gets ErrAlreadyClaimed. Two simultaneous
// claims are serialized by the ticket lock, so exactly one succeeds.
func (m *Machine) Claim(ctx context.Context, guildID string, ticketID int, staff Actor) (*entities.Ticket, error) {
	guild, err := m.config(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if !guild.IsStaff(staff.RoleIDs) {
		return nil, ErrUnauthorized
	}

	unlock := m.locks.Lock(key(guildID, ticketID))
	ticket, err := m.reg.Get(ctx, guildID, ticketID)
	if err != nil {
		unlock()
		return nil, err
	}

	switch {
	// The PendingClose to Claimed edge belongs to CancelClose, so claiming
	// is stricter than the transition table alone.
	case ticket.State.Terminal() || ticket.State == entities.StatePendingClose:
		unlock()
		return nil, fmt.Errorf("%w: cannot claim ticket in state %s", ErrInvalidTransition, ticket.State)
	case ticket.ClaimedBy == staff.UserID:
		// Reclaim by the same user is a no-op.
		unlock()
		return ticket, nil
	case ticket.ClaimedBy != "":
		unlock()
		return nil, ErrAlreadyClaimed
	}

	ticket.ClaimedBy = staff.UserID
	ticket.State = entities.StateClaimed
	if err := m.reg.Update(ctx, ticket); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	// Topic update is cosmetic and runs outside the lock.
	ioCtx, cancel := m.ioCtx(ctx)
	defer cancel()
	topic := fmt.Sprintf("Ticket opened by %s | claimed by %s", ticket.Username, staff.Username)
	if err := m.channels.SetChannelTopic(ioCtx, ticket.ChannelID, topic); err != nil {
		m.l.Warn("Error updating ticket channel topic",
			slog.String(logging.KeyChannel, ticket.ChannelID),
			slog.String(logging.KeyError, err.Error()),
		)
	}
	return ticket, nil
}

// Unclaim releases a claimed ticket back to Open. Only the claimant or a
// staff member may unclaim.
func (m *Machine) Unclaim(ctx context.Context, guildID string, ticketID int, actor Actor) (*entities.Ticket, error) {
	guild, err := m.config(ctx, guildID)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(key(guildID, ticketID))
	defer unlock()

	ticket, err := m.reg.Get(ctx, guildID, ticketID)
	if err != nil {
		return nil, err
	}

	if ticket.State != entities.StateClaimed {
		return nil, fmt.Errorf("%w: cannot unclaim ticket in state %s", ErrInvalidTransition, ticket.State)
	}
	if actor.UserID != ticket.ClaimedBy && !guild.IsStaff(actor.RoleIDs) {
		return nil, ErrUnauthorized
	}

	ticket.ClaimedBy = ""
	ticket.State = entities.StateOpen
	if err := m.reg.Update(ctx, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

// SetPriority assigns a priority label to the ticket. Legal in any
// non-terminal state. Concurrent priority changes are last writer wins.
func (m *Machine) SetPriority(ctx context.Context, guildID string, ticketID int, label string, staff Actor) (*entities.Ticket, error) {
	guild, err := m.config(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if !guild.IsStaff(staff.RoleIDs) {
		return nil, ErrUnauthorized
	}
	if !guild.PriorityAllowed(label) {
		return nil, ErrUnknownPriority
	}

	unlock := m.locks.Lock(key(guildID, ticketID))
	defer unlock()

	ticket, err := m.reg.Get(ctx, guildID, ticketID)
	if err != nil {
		return nil, err
	}

	if ticket.State.Terminal() {
		return nil, fmt.Errorf("%w: cannot set priority in state %s", ErrInvalidTransition, ticket.State)
	}

	ticket.Priority = label
	if err := m.reg.Update(ctx, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

// RequestClose moves the ticket to PendingClose and posts the confirmation
// prompt. Legal from Open or Claimed, by the owner or a staff member.
func (m *Machine) RequestClose(ctx context.Context, guildID string, ticketID int, actor Actor) (*entities.Ticket, error) {
	guild, err := m.config(ctx, guildID)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(key(guildID, ticketID))
	ticket, err := m.reg.Get(ctx, guildID, ticketID)
	if err != nil {
		unlock()
		return nil, err
	}

	if !ticket.State.CanTransition(entities.StatePendingClose) {
		unlock()
		return nil, fmt.Errorf("%w: cannot request close in state %s", ErrInvalidTransition, ticket.State)
	}
	if !ownerOrStaff(ticket, guild, actor) {
		unlock()
		return nil, ErrUnauthorized
	}

	ticket.State = entities.StatePendingClose
	if err := m.reg.Update(ctx, ticket); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	ioCtx, cancel := m.ioCtx(ctx)
	defer cancel()
	if _, err := m.notifier.PostCloseConfirm(ioCtx, ticket.ChannelID, ticket); err != nil {
		m.l.Error("Error posting close confirmation",
			slog.String(logging.KeyChannel, ticket.ChannelID),
			slog.String(logging.KeyError, err.Error()),
		)
	}
	return ticket, nil
}

// CancelClose returns a PendingClose ticket to its previous state, Claimed
// when a claimant is set and Open otherwise.
func (m *Machine) CancelClose(ctx context.Context, guildID string, ticketID int, actor Actor) (*entities.Ticket, error) {
	guild, err := m.config(ctx, guildID)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(key(guildID, ticketID))
	defer unlock()

	ticket, err := m.reg.Get(ctx, guildID, ticketID)
	if err != nil {
		return nil, err
	}

	target := entities.StateOpen
	if ticket.ClaimedBy != "" {
		target = entities.StateClaimed
	}
	if !ticket.State.CanTransition(target) {
		return nil, fmt.Errorf("%w: cannot cancel close in state %s", ErrInvalidTransition, ticket.State)
	}
	if !ownerOrStaff(ticket, guild, actor) {
		return nil, ErrUnauthorized
	}

	ticket.State = target
	if err := m.reg.Update(ctx, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

// ConfirmClose closes a PendingClose ticket. The transcript is collected
// before the close commits but only persisted once the close has committed,
// so a durable record never exists for a ticket that is still in service; a
// racing cancel simply discards the collected history. A transcript failure
// does not block closure but flags the ticket degraded and is reported to
// the guilds log channel, so a closed ticket never silently lacks a record.
// The ticket channel is torn down after the commit.
func (m *Machine) ConfirmClose(ctx context.Context, guildID string, ticketID int, actor Actor) (*entities.Ticket, error) {
	guild, err := m.config(ctx, guildID)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.Lock(key(guildID, ticketID))
	ticket, err := m.reg.Get(ctx, guildID, ticketID)
	if err != nil {
		unlock()
		return nil, err
	}

	if !ticket.State.CanTransition(entities.StateClosed) {
		unlock()
		return nil, fmt.Errorf("%w: cannot confirm close in state %s", ErrInvalidTransition, ticket.State)
	}
	if !ownerOrStaff(ticket, guild, actor) {
		unlock()
		return nil, ErrUnauthorized
	}
	unlock()

	// Collect the transcript with no locks held; history fetches can be
	// slow and are retried internally. Nothing durable is written yet.
	ioCtx, cancel := context.WithTimeout(ctx, 2*m.ioTimeout)
	record, tErr := m.transcripts.Collect(ioCtx, ticket)
	cancel()
	if tErr != nil {
		m.l.Error("Error collecting transcript",
			slog.String(logging.KeyGuild, guildID),
			slog.Int(logging.KeyTicket, ticketID),
			slog.String(logging.KeyError, tErr.Error()),
		)
	}

	unlock = m.locks.Lock(key(guildID, ticketID))
	ticket, err = m.reg.Get(ctx, guildID, ticketID)
	if err != nil {
		unlock()
		return nil, err
	}
	if ticket.State == entities.StateClosed || ticket.State == entities.StateArchived {
		// Someone else confirmed while the transcript was collecting; their
		// close owns the record.
		unlock()
		return ticket, nil
	}
	if !ticket.State.CanTransition(entities.StateClosed) {
		// A racing cancel returned the ticket to service; the collected
		// history is discarded unwritten.
		unlock()
		return nil, fmt.Errorf("%w: cannot confirm close in state %s", ErrInvalidTransition, ticket.State)
	}

	now := custom.Now()
	ticket.State = entities.StateClosed
	ticket.ClosedBy = actor.UserID
	ticket.ClosedAt = &now
	if tErr != nil {
		ticket.Degraded = true
	}
	if err := m.reg.Update(ctx, ticket); err != nil {
		unlock()
		return nil, err
	}

	// Persist the transcript only now the close is committed. A save failure
	// degrades the closed ticket the same way a collection failure does.
	if tErr == nil {
		if pErr := m.transcripts.Persist(ctx, record); pErr != nil {
			m.l.Error("Error saving transcript",
				slog.String(logging.KeyGuild, guildID),
				slog.Int(logging.KeyTicket, ticketID),
				slog.String(logging.KeyError, pErr.Error()),
			)
			tErr = pErr
			record = nil
			ticket.Degraded = true
			if err := m.reg.Update(ctx, ticket); err != nil {
				m.l.Error("Error flagging ticket degraded",
					slog.String(logging.KeyGuild, guildID),
					slog.Int(logging.KeyTicket, ticketID),
					slog.String(logging.KeyError, err.Error()),
				)
			}
		}
	}
	unlock()

	m.reportClose(ctx, guild, ticket, record, tErr)
	m.dmOwner(ctx, ticket, record, tErr)

	// Channel teardown. A failure here leaves the channel behind, which is
	// harmless; the ticket is already closed.
	ioCtx, cancel = m.ioCtx(ctx)
	defer cancel()
	if err := m.channels.DeleteChannel(ioCtx, ticket.ChannelID); err != nil {
		m.l.Warn("Error deleting ticket channel",
			slog.String(logging.KeyChannel, ticket.ChannelID),
			slog.String(logging.KeyError, err.Error()),
		)
	}
	return ticket, nil
}

// reportClose posts the closure summary, or the transcript failure, to the
// guilds log channel when one is configured.
func (m *Machine) reportClose(ctx context.Context, guild *entities.Guild, ticket *entities.Ticket, record *entities.TranscriptRecord, tErr error) {
	if guild.Ticketing.LogChannelID == "" {
		return
	}

	var content string
	switch {
	case tErr != nil:
		content = fmt.Sprintf("Ticket **%s** closed by <@%s>, but the transcript could not be generated: %s. The ticket has been flagged for reconciliation.",
			ticket.Name(), ticket.ClosedBy, tErr)
	case record.Partial:
		content = fmt.Sprintf("Ticket **%s** closed by <@%s>. Transcript `%s` saved with %d lines (history partially missing).",
			ticket.Name(), ticket.ClosedBy, record.ID, len(record.Lines))
	default:
		content = fmt.Sprintf("Ticket **%s** closed by <@%s>. Transcript `%s` saved with %d lines.",
			ticket.Name(), ticket.ClosedBy, record.ID, len(record.Lines))
	}

	ioCtx, cancel := m.ioCtx(ctx)
	defer cancel()
	if _, err := m.notifier.Post(ioCtx, guild.Ticketing.LogChannelID, content); err != nil {
		m.l.Warn("Error posting close report",
			slog.String(logging.KeyChannel, guild.Ticketing.LogChannelID),
			slog.String(logging.KeyError, err.Error()),
		)
	}
}

// dmOwner sends the ticket owner a closing summary by direct message. Users
// with DMs closed are common, so a failure is only logged.
func (m *Machine) dmOwner(ctx context.Context, ticket *entities.Ticket, record *entities.TranscriptRecord, tErr error) {
	var content string
	switch {
	case tErr != nil:
		content = fmt.Sprintf("Your ticket **%s** has been closed. Unfortunately the transcript could not be generated.", ticket.Name())
	case record.Partial:
		content = fmt.Sprintf("Your ticket **%s** has been closed. Transcript `%s` saved with %d lines (history partially missing).",
			ticket.Name(), record.ID, len(record.Lines))
	default:
		content = fmt.Sprintf("Your ticket **%s** has been closed. Transcript `%s` saved with %d lines.",
			ticket.Name(), record.ID, len(record.Lines))
	}

	ioCtx, cancel := m.ioCtx(ctx)
	defer cancel()
	if _, err := m.notifier.PostDM(ioCtx, ticket.UserID, content); err != nil {
		m.l.Warn("Error sending close summary DM",
			slog.String(logging.KeyUser, ticket.UserID),
			slog.String(logging.KeyError, err.Error()),
		)
	}
}

// Archive moves a Closed ticket to Archived. Archiving an Archived ticket is
// an idempotent no-op.
func (m *Machine) Archive(ctx context.Context, guildID string, ticketID int) error {
	unlock := m.locks.Lock(key(guildID, ticketID))
	defer unlock()

	ticket, err := m.reg.Get(ctx, guildID, ticketID)
	if err != nil {
		return err
	}

	if ticket.State == entities.StateArchived {
		return nil
	}
	if !ticket.State.CanTransition(entities.StateArchived) {
		return fmt.Errorf("%w: cannot archive ticket in state %s", ErrInvalidTransition, ticket.State)
	}

	ticket.State = entities.StateArchived
	return m.reg.Update(ctx, ticket)
}

// ArchiveSweep archives every ticket closed before the retention period.
// Returns the number of tickets archived. Individual failures are logged and
// do not stop the sweep.
func (m *Machine) ArchiveSweep(ctx context.Context, retention time.Duration) (int, error) {
	closed, err := m.reg.store.ListClosedBefore(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("error listing closed tickets: %w", err)
	}

	archived := 0
	for _, t := range closed {
		if err := m.Archive(ctx, t.GuildID, t.ID); err != nil {
			m.l.Error("Error archiving ticket",
				slog.String(logging.KeyGuild, t.GuildID),
				slog.Int(logging.KeyTicket, t.ID),
				slog.String(logging.KeyError, err.Error()),
			)
			continue
		}
		archived++
	}
	return archived, nil
}
