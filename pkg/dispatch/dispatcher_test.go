package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"

	"github.com/Jacobbrewer1/sprout/pkg/logging"
)

func newTestDispatcher(t *testing.T, routes Routes) *Dispatcher {
	t.Helper()

	l, err := logging.CommonLogger(logging.NewConfig(`tests`))
	require.NoError(t, err, "Failed to create logger")

	return NewDispatcher(l, routes)
}

func commandInteraction(id, name string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:      id,
			GuildID: "guild-1",
			Type:    discordgo.InteractionApplicationCommand,
			Data: discordgo.ApplicationCommandInteractionData{
				Name: name,
			},
		},
	}
}

func componentInteraction(id, customID string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:      id,
			GuildID: "guild-1",
			Type:    discordgo.InteractionMessageComponent,
			Data: discordgo.MessageComponentInteractionData{
				CustomID: customID,
			},
		},
	}
}

func TestDispatchRouting(t *testing.T) {
	calls := make(map[string]int)
	routes := Routes{
		Commands: map[string]Processor{
			"ticket": func(_ context.Context, _ *discordgo.InteractionCreate) error {
				calls["ticket"]++
				return nil
			},
		},
		Components: map[string]Processor{
			"open_ticket_button": func(_ context.Context, _ *discordgo.InteractionCreate) error {
				calls["open_ticket_button"]++
				return nil
			},
		},
	}
	d := newTestDispatcher(t, routes)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, commandInteraction("i1", "ticket")))
	require.NoError(t, d.Dispatch(ctx, componentInteraction("i2", "open_ticket_button")))
	require.Equal(t, 1, calls["ticket"])
	require.Equal(t, 1, calls["open_ticket_button"])

	require.ErrorIs(t, d.Dispatch(ctx, commandInteraction("i3", "unknown")), ErrUnknownAction)
	require.ErrorIs(t, d.Dispatch(ctx, componentInteraction("i4", "unknown_button")), ErrUnknownAction)
}

func TestDispatchDedupesRedeliveries(t *testing.T) {
	calls := 0
	d := newTestDispatcher(t, Routes{
		Commands: map[string]Processor{
			"ticket": func(_ context.Context, _ *discordgo.InteractionCreate) error {
				calls++
				return nil
			},
		},
	})
	ctx := context.Background()

	// The gateway delivers at least once; the same interaction ID may arrive
	// again after the handler already succeeded.
	require.NoError(t, d.Dispatch(ctx, commandInteraction("i1", "ticket")))
	require.NoError(t, d.Dispatch(ctx, commandInteraction("i1", "ticket")))
	require.Equal(t, 1, calls, "re-delivery must not re-run the side effect")
}

func TestDispatchFailedHandlerStaysRetryable(t *testing.T) {
	calls := 0
	d := newTestDispatcher(t, Routes{
		Commands: map[string]Processor{
			"ticket": func(_ context.Context, _ *discordgo.InteractionCreate) error {
				calls++
				if calls == 1 {
					return errors.New("transient")
				}
				return nil
			},
		},
	})
	ctx := context.Background()

	require.Error(t, d.Dispatch(ctx, commandInteraction("i1", "ticket")))
	require.NoError(t, d.Dispatch(ctx, commandInteraction("i1", "ticket")))
	require.Equal(t, 2, calls, "a failed delivery is not recorded as handled")
}

func TestDispatchGuildRateLimit(t *testing.T) {
	d := newTestDispatcher(t, Routes{
		Commands: map[string]Processor{
			"ticket": func(_ context.Context, _ *discordgo.InteractionCreate) error {
				return nil
			},
		},
	})
	ctx := context.Background()

	limited := false
	for n := range 20 {
		err := d.Dispatch(ctx, commandInteraction(fmt.Sprintf("i%d", n), "ticket"))
		if errors.Is(err, ErrRateLimited) {
			limited = true
			break
		}
		require.NoError(t, err)
	}
	require.True(t, limited, "a burst of interactions must hit the guild limiter")
}

func TestDispatchSimultaneousDeliveries(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	d := newTestDispatcher(t, Routes{
		Commands: map[string]Processor{
			"ticket": func(_ context.Context, _ *discordgo.InteractionCreate) error {
				mu.Lock()
				calls++
				mu.Unlock()
				return nil
			},
		},
	})
	ctx := context.Background()

	// The gateway can deliver the same interaction twice at once; only one
	// delivery may run the handler.
	errs := make([]error, 4)
	wg := new(sync.WaitGroup)
	for idx := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[idx] = d.Dispatch(ctx, commandInteraction("i1", "ticket"))
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err, "dropped duplicates are not errors")
	}
	require.Equal(t, 1, calls, "simultaneous duplicates must not re-run the side effect")
}

func TestDeduper(t *testing.T) {
	d := NewDeduper()

	require.True(t, d.Acquire("i1"))
	require.False(t, d.Acquire("i1"), "an id is reserved on first sight")
	require.True(t, d.Acquire("i2"))

	d.Release("i1")
	require.True(t, d.Acquire("i1"), "a released id stays retryable")
}

func TestDeduperSimultaneousAcquires(t *testing.T) {
	d := NewDeduper()

	wins := make([]bool, 8)
	wg := new(sync.WaitGroup)
	for idx := range wins {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins[idx] = d.Acquire("i1")
		}()
	}
	wg.Wait()

	won := 0
	for _, w := range wins {
		if w {
			won++
		}
	}
	require.Equal(t, 1, won, "exactly one acquire of an id may win")
}

func TestDeduperBounded(t *testing.T) {
	d := NewDeduper()

	for n := range maxDedupeEntries + 100 {
		d.Acquire(fmt.Sprintf("i%d", n))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	require.LessOrEqual(t, len(d.handled), maxDedupeEntries)
}
