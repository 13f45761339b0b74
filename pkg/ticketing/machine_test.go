package ticketing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Jacobbrewer1/sprout/pkg/custom"
	"github.com/Jacobbrewer1/sprout/pkg/entities"
	"github.com/Jacobbrewer1/sprout/pkg/logging"
)

const testGuildID = "guild-1"

var (
	owner = Actor{UserID: "user-1", Username: "alice"}
	staff = Actor{UserID: "staff-1", Username: "bob", RoleIDs: []string{"role-staff"}}
	other = Actor{UserID: "user-2", Username: "carol"}
)

type machineFixture struct {
	machine     *Machine
	guilds      *memGuilds
	store       *memStore
	channels    *fakeChannels
	notifier    *fakeNotifier
	transcripts *fakeTranscripts
}

func newMachineFixture(t *testing.T, guild *entities.Guild) *machineFixture {
	t.Helper()

	l, err := logging.CommonLogger(logging.NewConfig(`tests`))
	require.NoError(t, err, "Failed to create logger")

	f := &machineFixture{
		guilds:      newMemGuilds(),
		store:       newMemStore(),
		channels:    newFakeChannels(),
		notifier:    newFakeNotifier(),
		transcripts: new(fakeTranscripts),
	}
	if guild != nil {
		f.guilds.guilds[guild.ID] = guild
	}

	f.machine = NewMachine(l, f.guilds, NewRegistry(l, f.store), f.channels, f.notifier, f.transcripts)
	return f
}

func testGuild() *entities.Guild {
	return &entities.Guild{
		ID: testGuildID,
		Ticketing: entities.TicketingConfig{
			Enabled:      true,
			StaffRoleIDs: []string{"role-staff"},
			LogChannelID: "log-chan",
		},
	}
}

func TestCreateTicket(t *testing.T) {
	f := newMachineFixture(t, testGuild())
	ctx := context.Background()

	ticket, err := f.machine.Create(ctx, testGuildID, owner)
	require.NoError(t, err)
	require.Equal(t, 1, ticket.ID)
	require.Equal(t, entities.StateOpen, ticket.State)
	require.Equal(t, owner.UserID, ticket.UserID)
	require.Equal(t, "chan-1", ticket.ChannelID)
	require.Equal(t, "1-alice", ticket.Name())

	// The control message was posted into the new channel and its ID was
	// saved on the ticket.
	require.Equal(t, []string{"chan-1"}, f.notifier.controls)
	require.Equal(t, "ctl-1", ticket.ControlMessageID)

	stored, err := f.store.GetTicket(ctx, testGuildID, ticket.ID)
	require.NoError(t, err)
	require.Equal(t, "ctl-1", stored.ControlMessageID)
}

func TestCreateNotConfigured(t *testing.T) {
	disabled := testGuild()
	disabled.Ticketing.Enabled = false

	tests := []struct {
		name  string
		guild *entities.Guild
	}{
		{
			name: "NeverSetUp",
		},
		{
			name:  "Disabled",
			guild: disabled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMachineFixture(t, tt.guild)
			_, err := f.machine.Create(context.Background(), testGuildID, owner)
			require.ErrorIs(t, err, ErrNotConfigured)
			require.Empty(t, f.channels.created, "no channel should be provisioned")
		})
	}
}

func TestCreateQuota(t *testing.T) {
	f := newMachineFixture(t, testGuild())
	ctx := context.Background()

	first, err := f.machine.Create(ctx, testGuildID, owner)
	require.NoError(t, err)

	// Default limit is one open ticket per user.
	_, err = f.machine.Create(ctx, testGuildID, owner)
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.Len(t, f.channels.created, 1, "quota failure before provisioning")

	// Another user is unaffected.
	_, err = f.machine.Create(ctx, testGuildID, other)
	require.NoError(t, err)

	// Closing the first ticket frees the slot.
	_, err = f.machine.RequestClose(ctx, testGuildID, first.ID, owner)
	require.NoError(t, err)
	_, err = f.machine.ConfirmClose(ctx, testGuildID, first.ID, owner)
	require.NoError(t, err)

	ticket, err := f.machine.Create(ctx, testGuildID, owner)
	require.NoError(t, err)
	require.Equal(t, 3, ticket.ID, "ticket IDs are never reused")
}

func TestCreateRollsBackChannelOnCommitFailure(t *testing.T) {
	f := newMachineFixture(t, testGuild())
	f.store.insertErr = errors.New("mongo down")

	_, err := f.machine.Create(context.Background(), testGuildID, owner)
	require.Error(t, err)
	require.Equal(t, []string{"chan-1"}, f.channels.deleted, "orphaned channel must be rolled back")
}

func TestCreateDegradedOnFailedRollback(t *testing.T) {
	f := newMachineFixture(t, testGuild())
	ctx := context.Background()

	// The commit fails and the rollback delete also fails. The orphaned
	// ticket must be persisted degraded so it is visible for reconciliation.
	f.store.insertErr = errors.New("mongo down")
	f.channels.deleteErr = errors.New("discord down")

	_, err := f.machine.Create(ctx, testGuildID, owner)
	require.ErrorIs(t, err, ErrDegraded)

	stored, err := f.store.GetTicket(ctx, testGuildID, 1)
	require.NoError(t, err)
	require.True(t, stored.Degraded)

	// A degraded ticket does not hold a quota slot, so the owner can open a
	// fresh ticket straight away.
	f.channels.deleteErr = nil
	ticket, err := f.machine.Create(ctx, testGuildID, owner)
	require.NoError(t, err)
	require.Equal(t, 2, ticket.ID)
}

func TestClaim(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, f *machineFixture, ticket *entities.Ticket)
		actor   Actor
		wantErr error
	}{
		{
			name:  "StaffClaims",
			actor: staff,
		},
		{
			name:    "NonStaffRejected",
			actor:   other,
			wantErr: ErrUnauthorized,
		},
		{
			name: "AlreadyClaimedByOther",
			prepare: func(t *testing.T, f *machineFixture, ticket *entities.Ticket) {
				t.Helper()
				second := Actor{UserID: "staff-2", RoleIDs: []string{"role-staff"}}
				_, err := f.machine.Claim(context.Background(), testGuildID, ticket.ID, second)
				require.NoError(t, err)
			},
			actor:   staff,
			wantErr: ErrAlreadyClaimed,
		},
		{
			name: "ClaimClosedRejected",
			prepare: func(t *testing.T, f *machineFixture, ticket *entities.Ticket) {
				t.Helper()
				ctx := context.Background()
				_, err := f.machine.RequestClose(ctx, testGuildID, ticket.ID, owner)
				require.NoError(t, err)
				_, err = f.machine.ConfirmClose(ctx, testGuildID, ticket.ID, owner)
				require.NoError(t, err)
			},
			actor:   staff,
			wantErr: ErrInvalidTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMachineFixture(t, testGuild())
			ctx := context.Background()

			ticket, err := f.machine.Create(ctx, testGuildID, owner)
			require.NoError(t, err)

			if tt.prepare != nil {
				tt.prepare(t, f, ticket)
			}

			before, err := f.store.GetTicket(ctx, testGuildID, ticket.ID)
			require.NoError(t, err)

			got, err := f.machine.Claim(ctx, testGuildID, ticket.ID, tt.actor)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				// A rejected claim leaves the ticket untouched.
				after, err := f.store.GetTicket(ctx, testGuildID, ticket.ID)
				require.NoError(t, err)
				require.Equal(t, before.ClaimedBy, after.ClaimedBy)
				require.Equal(t, before.State, after.State)
				return
			}
			require.NoError(t, err)
			require.Equal(t, entities.StateClaimed, got.State)
			require.Equal(t, tt.actor.UserID, got.ClaimedBy)
		})
	}
}

func TestClaimIdempotentForClaimant(t *testing.T) {
	f := newMachineFixture(t, testGuild())
	ctx := context.Background()

	ticket, err := f.machine.Create(ctx, testGuildID, owner)
	require.NoError(t, err)

	first, err := f.machine.Claim(ctx, testGuildID, ticket.ID, staff)
	require.NoError(t, err)

	second, err := f.machine.Claim(ctx, testGuildID, ticket.ID, staff)
	require.NoError(t, err)
	require.Equal(t, first.ClaimedBy, second.ClaimedBy)
	require.Equal(t, first.Version, second.Version, "reclaim must not write")
}

func TestConcurrentClaims(t *testing.T) {
	f := newMachineFixture(t, testGuild())
	ctx := context.Background()

	ticket, err := f.machine.Create(ctx, testGuildID, owner)
	require.NoError(t, err)

	claimants := []Actor{
		{UserID: "staff-1", Username: "bob", RoleIDs: []string{"role-staff"}},
		{UserID: "staff-2", Username: "dave", RoleIDs: []string{"role-staff"}},
		{UserID: "staff-3", Username: "erin", RoleIDs: []string{"role-staff"}},
	}

	errs := make([]error, len(claimants))
	wg := new(sync.WaitGroup)
	for idx, c := range claimants {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[idx] = f.machine.Claim(ctx, testGuildID, ticket.ID, c)
		}()
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		require.ErrorIs(t, err, ErrAlreadyClaimed)
	}
	require.Equal(t, 1, won, "exactly one concurrent claim must win")

	got, err := f.store.GetTicket(ctx, testGuildID, ticket.ID)
	require.NoError(t, err)
	require.Equal(t, entities.StateClaimed, got.State)
	require.NotEmpty(t, got.ClaimedBy)
}

func TestUnclaim(t *testing.T) {
	f := newMachineFixture(t, testGuild())
	ctx := context.Background()

	ticket, err := f.machine.Create(ctx, testGuildID, owner)
	require.NoError(t, err)

	// Unclaiming an open ticket is illegal.
	_, err = f.machine.Unclaim(ctx, testGuildID, ticket.ID, staff)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.machine.Claim(ctx, testGuildID, ticket.ID, staff)
	require.NoError(t, err)

	// The owner is not the claimant and not staff.
	_, err = f.machine.Unclaim(ctx, testGuildID, ticket.ID, owner)
	require.ErrorIs(t, err, ErrUnauthorized)

	got, err := f.machine.Unclaim(ctx, testGuildID, ticket.ID, staff)
	require.NoError(t, err)
	require.Equal(t, entities.StateOpen, got.State)
	require.Empty(t, got.ClaimedBy)
}

func TestSetPriority(t *testing.T) {
	tests := []struct {
		name    string
		label   string
		actor   Actor
		wantErr error
	}{
		{
			name:  "StaffSetsKnownLabel",
			label: "high",
			actor: staff,
		},
		{
			name:    "UnknownLabel",
			label:   "critical",
			actor:   staff,
			wantErr: ErrUnknownPriority,
		},
		{
			name:    "NonStaffRejected",
			label:   "high",
			actor:   owner,
			wantErr: ErrUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMachineFixture(t, testGuild())
			ctx := context.Background()

			ticket, err := f.machine.Create(ctx, testGuildID, owner)
			require.NoError(t, err)

			got, err := f.machine.SetPriority(ctx, testGuildID, ticket.ID, tt.label, tt.actor)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.label, got.Priority)
		})
	}
}

func TestSetPriorityLastWriterWins(t *testing.T) {
	f := newMachineFixture(t, testGuild())
	ctx := context.Background()

	ticket, err := f.machine.Create(ctx, testGuildID, owner)
	require.NoError(t, err)

	second := Actor{UserID: "staff-2", RoleIDs: []string{"role-staff"}}
	_, err = f.machine.SetPriority(ctx, testGuildID, ticket.ID, "low", staff)
	require.NoError(t, err)
	got, err := f.machine.SetPriority(ctx, testGuildID, ticket.ID, "high", second)
	require.NoError(t, err)
	require.Equal(t, "high", got.Priority)
}

func TestCloseFlow(t *testing.T) {
	f := newMachineFixture(t, testGuild())
	ctx := context.Background()

	ticket, err := f.machine.Create(ctx, testGuildID, owner)
	require.NoError(t, err)
	_, err = f.machine.Claim(ctx, testGuildID, ticket.ID, staff)
	require.NoError(t, err)

	// Only the owner or staff may request closure.
	_, err = f.machine.RequestClose(ctx, testGuildID, ticket.ID, other)
	require.ErrorIs(t, err, ErrUnauthorized)

	got, err := f.machine.RequestClose(ctx, testGuildID, ticket.ID, owner)
	require.NoError(t, err)
	require.Equal(t, entities.StatePendingClose, got.State)
	require.Equal(t, []string{ticket.ChannelID}, f.notifier.confirms)

	// Cancelling restores the claimed state, not open.
	got, err = f.machine.CancelClose(ctx, testGuildID, ticket.ID, owner)
	require.NoError(t, err)
	require.Equal(t, entities.StateClaimed, got.State)

	_, err = f.machine.RequestClose(ctx, testGuildID, ticket.ID, staff)
	require.NoError(t, err)

	got, err = f.machine.ConfirmClose(ctx, testGuildID, ticket.ID, staff)
	require.NoError(t, err)
	require.Equal(t, entities.StateClosed, got.State)
	require.Equal(t, staff.UserID, got.ClosedBy)
	require.NotNil(t, got.ClosedAt)
	require.False(t, got.Degraded)

	// Transcript collected and persisted once, close reported, the owner
	// received a summary DM and the channel was torn down.
	require.Equal(t, 1, f.transcripts.collected)
	require.Len(t, f.transcripts.persisted, 1)
	require.Len(t, f.notifier.posts["log-chan"], 1)
	require.Len(t, f.notifier.dms[owner.UserID], 1)
	require.Contains(t, f.notifier.dms[owner.UserID][0], "has been closed")
	require.Equal(t, []string{ticket.ChannelID}, f.channels.deleted)
}

func TestConfirmCloseTranscriptFailure(t *testing.T) {
	f := newMachineFixture(t, testGuild())
	ctx := context.Background()

	ticket, err := f.machine.Create(ctx, testGuildID, owner)
	require.NoError(t, err)
	_, err = f.machine.RequestClose(ctx, testGuildID, ticket.ID, owner)
	require.NoError(t, err)

	f.transcripts.collectErr = ErrTranscriptUnavailable

	got, err := f.machine.ConfirmClose(ctx, testGuildID, ticket.ID, owner)
	require.NoError(t, err, "transcript failure must not block closure")
	require.Equal(t, entities.StateClosed, got.State)
	require.True(t, got.Degraded, "missing transcript flags the ticket")
	require.Empty(t, f.transcripts.persisted, "a failed collection writes no record")

	// The failure was surfaced in the log channel and the owners DM.
	require.Len(t, f.notifier.posts["log-chan"], 1)
	require.Contains(t, f.notifier.posts["log-chan"][0], "transcript could not be generated")
	require.Len(t, f.notifier.dms[owner.UserID], 1)
	require.Contains(t, f.notifier.dms[owner.UserID][0], "could not be generated")
}

func TestConfirmCloseTranscriptSaveFailure(t *testing.T) {
	f := newMachineFixture(t, testGuild())
	ctx := context.Background()

	ticket, err := f.machine.Create(ctx, testGuildID, owner)
	require.NoError(t, err)
	_, err = f.machine.RequestClose(ctx, testGuildID, ticket.ID, owner)
	require.NoError(t, err)

	f.transcripts.persistErr = errors.New("mongo down")

	got, err := f.machine.ConfirmClose(ctx, testGuildID, ticket.ID, owner)
	require.NoError(t, err, "a save failure must not block closure")
	require.Equal(t, entities.StateClosed, got.State)
	require.True(t, got.Degraded, "an unsaved transcript flags the ticket")

	stored, err := f.store.GetTicket(ctx, testGuildID, ticket.ID)
	require.NoError(t, err)
	require.True(t, stored.Degraded)
}

func TestCancelDuringConfirmLeavesNoTranscript(t *testing.T) {
	f := newMachineFixture(t, testGuild())
	ctx := context.Background()

	ticket, err := f.machine.Create(ctx, testGuildID, owner)
	require.NoError(t, err)
	_, err = f.machine.Claim(ctx, testGuildID, ticket.ID, staff)
	require.NoError(t, err)
	_, err = f.machine.RequestClose(ctx, testGuildID, ticket.ID, owner)
	require.NoError(t, err)

	f.transcripts.collectStarted = make(chan struct{})
	f.transcripts.collectRelease = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.machine.ConfirmClose(ctx, testGuildID, ticket.ID, owner)
		done <- err
	}()

	// Once the confirm is mid-collection, cancel the close underneath it.
	<-f.transcripts.collectStarted
	got, err := f.machine.CancelClose(ctx, testGuildID, ticket.ID, owner)
	require.NoError(t, err)
	require.Equal(t, entities.StateClaimed, got.State)

	close(f.transcripts.collectRelease)
	require.ErrorIs(t, <-done, ErrInvalidTransition)

	// The collected history was discarded: a record must never exist for a
	// ticket that is back in service.
	require.Empty(t, f.transcripts.persisted)
	stored, err := f.store.GetTicket(ctx, testGuildID, ticket.ID)
	require.NoError(t, err)
	require.Equal(t, entities.StateClaimed, stored.State)
	require.False(t, stored.Degraded)
	require.Empty(t, f.channels.deleted, "the channel stays up after a cancelled close")
}

func TestRacingConfirmsPersistOneTranscript(t *testing.T) {
	f := newMachineFixture(t, testGuild())
	ctx := context.Background()

	ticket, err := f.machine.Create(ctx, testGuildID, owner)
	require.NoError(t, err)
	_, err = f.machine.RequestClose(ctx, testGuildID, ticket.ID, owner)
	require.NoError(t, err)

	f.transcripts.collectStarted = make(chan struct{})
	f.transcripts.collectRelease = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.machine.ConfirmClose(ctx, testGuildID, ticket.ID, owner)
		done <- err
	}()

	// A second confirm completes while the first is still collecting.
	<-f.transcripts.collectStarted
	got, err := f.machine.ConfirmClose(ctx, testGuildID, ticket.ID, staff)
	require.NoError(t, err)
	require.Equal(t, entities.StateClosed, got.State)
	require.Equal(t, staff.UserID, got.ClosedBy)

	close(f.transcripts.collectRelease)
	require.NoError(t, <-done, "the losing confirm returns the closed ticket")

	require.Len(t, f.transcripts.persisted, 1, "one close, one record")
}

func TestConfirmCloseWrongState(t *testing.T) {
	f := newMachineFixture(t, testGuild())
	ctx := context.Background()

	ticket, err := f.machine.Create(ctx, testGuildID, owner)
	require.NoError(t, err)

	_, err = f.machine.ConfirmClose(ctx, testGuildID, ticket.ID, owner)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestArchive(t *testing.T) {
	f := newMachineFixture(t, testGuild())
	ctx := context.Background()

	ticket, err := f.machine.Create(ctx, testGuildID, owner)
	require.NoError(t, err)

	// Archiving a non-closed ticket is illegal.
	require.ErrorIs(t, f.machine.Archive(ctx, testGuildID, ticket.ID), ErrInvalidTransition)

	_, err = f.machine.RequestClose(ctx, testGuildID, ticket.ID, owner)
	require.NoError(t, err)
	_, err = f.machine.ConfirmClose(ctx, testGuildID, ticket.ID, owner)
	require.NoError(t, err)

	require.NoError(t, f.machine.Archive(ctx, testGuildID, ticket.ID))

	got, err := f.store.GetTicket(ctx, testGuildID, ticket.ID)
	require.NoError(t, err)
	require.Equal(t, entities.StateArchived, got.State)

	// Archiving again is an idempotent no-op.
	require.NoError(t, f.machine.Archive(ctx, testGuildID, ticket.ID))
}

func TestArchiveSweep(t *testing.T) {
	f := newMachineFixture(t, testGuild())
	ctx := context.Background()

	closeTicket := func(t *testing.T, a Actor) *entities.Ticket {
		t.Helper()
		ticket, err := f.machine.Create(ctx, testGuildID, a)
		require.NoError(t, err)
		_, err = f.machine.RequestClose(ctx, testGuildID, ticket.ID, a)
		require.NoError(t, err)
		got, err := f.machine.ConfirmClose(ctx, testGuildID, ticket.ID, a)
		require.NoError(t, err)
		return got
	}

	old1 := closeTicket(t, owner)
	old2 := closeTicket(t, other)
	recent := closeTicket(t, Actor{UserID: "user-3", Username: "frank"})

	// Backdate two of the closures past the retention period.
	for _, ticket := range []*entities.Ticket{old1, old2} {
		stored, err := f.machine.reg.Get(ctx, testGuildID, ticket.ID)
		require.NoError(t, err)
		at := custom.Datetime(time.Now().UTC().Add(-48 * time.Hour))
		stored.ClosedAt = &at
		require.NoError(t, f.machine.reg.Update(ctx, stored))
	}

	archived, err := f.machine.ArchiveSweep(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, archived)

	got, err := f.store.GetTicket(ctx, testGuildID, recent.ID)
	require.NoError(t, err)
	require.Equal(t, entities.StateClosed, got.State, "recent closures stay put")
}
