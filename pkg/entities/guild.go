package entities

// Guild is a configuration for a guild.
type Guild struct {
	// ID is the ID of the guild.
	ID string `json:"id" bson:"id"`

	// Ticketing is the ticketing configuration.
	Ticketing TicketingConfig `json:"ticketing" bson:"ticketing"`
}

// IsStaff reports whether any of the given role IDs is one of the configured
// staff roles for the guild.
func (g *Guild) IsStaff(roleIDs []string) bool {
	for _, have := range roleIDs {
		for _, want := range g.Ticketing.StaffRoleIDs {
			if have == want {
				return true
			}
		}
	}
	return false
}

// PriorityAllowed reports whether the given label is one of the priority
// labels configured for the guild.
func (g *Guild) PriorityAllowed(label string) bool {
	for _, l := range g.Ticketing.Priorities() {
		if l == label {
			return true
		}
	}
	return false
}
