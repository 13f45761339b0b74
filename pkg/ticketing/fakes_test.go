package ticketing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Jacobbrewer1/sprout/pkg/entities"
)

// memGuilds is an in-memory GuildStore.
type memGuilds struct {
	mu     sync.Mutex
	guilds map[string]*entities.Guild
}

func newMemGuilds(guilds ...*entities.Guild) *memGuilds {
	s := &memGuilds{
		guilds: make(map[string]*entities.Guild),
	}
	for _, g := range guilds {
		s.guilds[g.ID] = g
	}
	return s
}

func (s *memGuilds) GetGuildByID(_ context.Context, id string) (*entities.Guild, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.guilds[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *g
	return &c, nil
}

func (s *memGuilds) SaveGuild(_ context.Context, guild *entities.Guild) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *guild
	s.guilds[guild.ID] = &c
	return nil
}

// memStore is an in-memory TicketStore with the same optimistic versioning
// behaviour as the real store. Failure injection is per call site.
type memStore struct {
	mu       sync.Mutex
	tickets  map[string]*entities.Ticket
	counters map[string]int

	// insertErr fails the next InsertTicket, then clears.
	insertErr error
	putErr    error
}

func newMemStore() *memStore {
	return &memStore{
		tickets:  make(map[string]*entities.Ticket),
		counters: make(map[string]int),
	}
}

func (s *memStore) InsertTicket(_ context.Context, ticket *entities.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertErr != nil {
		err := s.insertErr
		s.insertErr = nil
		return err
	}
	s.tickets[ticket.Key()] = ticket.Clone()
	return nil
}

func (s *memStore) GetTicket(_ context.Context, guildID string, id int) (*entities.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[key(guildID, id)]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *memStore) GetTicketByChannel(_ context.Context, guildID, channelID string) (*entities.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tickets {
		if t.GuildID == guildID && t.ChannelID == channelID {
			return t.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) PutTicketIfVersion(_ context.Context, ticket *entities.Ticket, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.putErr != nil {
		return s.putErr
	}

	stored, ok := s.tickets[ticket.Key()]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != version {
		return ErrVersionConflict
	}

	c := ticket.Clone()
	c.Version = version + 1
	s.tickets[ticket.Key()] = c
	return nil
}

func (s *memStore) ListOpenByGuild(_ context.Context, guildID string) ([]*entities.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entities.Ticket
	for _, t := range s.tickets {
		if t.GuildID == guildID && !t.State.Terminal() {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (s *memStore) ListOpenByUser(_ context.Context, guildID, userID string) ([]*entities.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entities.Ticket
	for _, t := range s.tickets {
		if t.GuildID == guildID && t.UserID == userID && !t.State.Terminal() {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (s *memStore) ListClosedBefore(_ context.Context, cutoff time.Time) ([]*entities.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*entities.Ticket
	for _, t := range s.tickets {
		if t.State != entities.StateClosed || t.ClosedAt == nil {
			continue
		}
		if t.ClosedAt.Time().Before(cutoff) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (s *memStore) NextTicketID(_ context.Context, guildID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[guildID]++
	return s.counters[guildID], nil
}

func (s *memStore) RemoveTicket(_ context.Context, guildID string, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tickets, key(guildID, id))
	return nil
}

// fakeChannels is a ChannelService that records what it was asked to do.
type fakeChannels struct {
	mu      sync.Mutex
	created []string
	deleted []string
	topics  map[string]string

	createErr error
	deleteErr error
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{
		topics: make(map[string]string),
	}
}

func (f *fakeChannels) CreateTicketChannel(_ context.Context, _, _, _, _, _ string, _ []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return "", f.createErr
	}
	id := fmt.Sprintf("chan-%d", len(f.created)+1)
	f.created = append(f.created, id)
	return id, nil
}

func (f *fakeChannels) DeleteChannel(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, channelID)
	return nil
}

func (f *fakeChannels) SetChannelTopic(_ context.Context, channelID, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.topics[channelID] = topic
	return nil
}

// fakeNotifier is a Notifier that records every post.
type fakeNotifier struct {
	mu       sync.Mutex
	posts    map[string][]string
	dms      map[string][]string
	controls []string
	confirms []string

	controlsErr error
	dmErr       error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		posts: make(map[string][]string),
		dms:   make(map[string][]string),
	}
}

func (f *fakeNotifier) Post(_ context.Context, channelID, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.posts[channelID] = append(f.posts[channelID], content)
	return "msg-1", nil
}

func (f *fakeNotifier) PostDM(_ context.Context, userID, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dmErr != nil {
		return "", f.dmErr
	}
	f.dms[userID] = append(f.dms[userID], content)
	return "dm-1", nil
}

func (f *fakeNotifier) PostTicketControls(_ context.Context, channelID string, _ *entities.Ticket, _ []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.controlsErr != nil {
		return "", f.controlsErr
	}
	f.controls = append(f.controls, channelID)
	return "ctl-1", nil
}

func (f *fakeNotifier) PostCloseConfirm(_ context.Context, channelID string, _ *entities.Ticket) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.confirms = append(f.confirms, channelID)
	return "cfm-1", nil
}

// fakeTranscripts is a TranscriptService with a scripted collection result.
// When collectStarted and collectRelease are set, the first Collect signals
// the former and then blocks on the latter, letting a test interleave other
// transitions mid-collection.
type fakeTranscripts struct {
	mu        sync.Mutex
	collected int
	persisted []*entities.TranscriptRecord

	record     *entities.TranscriptRecord
	collectErr error
	persistErr error

	collectStarted chan struct{}
	collectRelease chan struct{}
}

func (f *fakeTranscripts) Collect(_ context.Context, ticket *entities.Ticket) (*entities.TranscriptRecord, error) {
	f.mu.Lock()
	f.collected++
	call := f.collected
	record := f.record
	err := f.collectErr
	started := f.collectStarted
	release := f.collectRelease
	f.mu.Unlock()

	if started != nil && call == 1 {
		started <- struct{}{}
		<-release
	}

	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}
	return &entities.TranscriptRecord{
		ID:       "transcript-1",
		TicketID: ticket.ID,
		GuildID:  ticket.GuildID,
	}, nil
}

func (f *fakeTranscripts) Persist(_ context.Context, record *entities.TranscriptRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.persistErr != nil {
		return f.persistErr
	}
	f.persisted = append(f.persisted, record)
	return nil
}
