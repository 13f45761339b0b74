package entities

const (
	// DefaultMaxOpenTickets is the number of tickets a user may have open at
	// once when the guild has not configured a limit.
	DefaultMaxOpenTickets = 1

	// MaxConfigurableOpenTickets is the upper bound an administrator can set
	// the per-user limit to.
	MaxConfigurableOpenTickets = 10
)

// defaultPriorities are the priority labels used when a guild has not
// configured its own set.
var defaultPriorities = []string{"low", "medium", "high"}

// TicketingConfig is the per guild ticketing configuration.
type TicketingConfig struct {
	// Enabled is whether ticketing is enabled.
	Enabled bool `json:"enabled" bson:"enabled"`

	// PanelChannelID is the ID of the channel that the open ticket panel is in.
	PanelChannelID string `json:"panel_channel_id" bson:"panel_channel_id"`

	// PanelMessageID is the ID of the open ticket panel message.
	PanelMessageID string `json:"panel_message_id" bson:"panel_message_id"`

	// StaffRoleIDs are the IDs of the roles that handle tickets, in the order
	// they were configured.
	StaffRoleIDs []string `json:"staff_role_ids" bson:"staff_role_ids"`

	// TicketsCategoryID is the ID of the category that ticket channels are
	// created under.
	TicketsCategoryID string `json:"tickets_category_id" bson:"tickets_category_id"`

	// LogChannelID is the ID of the channel that transcripts and staff
	// notices are posted to. Optional.
	LogChannelID string `json:"log_channel_id" bson:"log_channel_id"`

	// MaxOpenTickets is the maximum number of tickets a single user may have
	// open at once. Zero means the default.
	MaxOpenTickets int `json:"max_open_tickets" bson:"max_open_tickets"`

	// PriorityLabelSet are the priority labels staff can assign to tickets.
	// Empty means the default set.
	PriorityLabelSet []string `json:"priority_labels" bson:"priority_labels"`
}

// MaxOpen returns the effective per-user open ticket limit.
func (c *TicketingConfig) MaxOpen() int {
	if c.MaxOpenTickets <= 0 {
		return DefaultMaxOpenTickets
	}
	return c.MaxOpenTickets
}

// Priorities returns the effective priority label set.
func (c *TicketingConfig) Priorities() []string {
	if len(c.PriorityLabelSet) == 0 {
		return defaultPriorities
	}
	return c.PriorityLabelSet
}
