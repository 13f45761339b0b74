package entities

// TicketState is the lifecycle state of a ticket.
type TicketState string

const (
	// StateOpen is a ticket that has been created and not yet claimed.
	StateOpen TicketState = "open"

	// StateClaimed is a ticket with an active staff responder.
	StateClaimed TicketState = "claimed"

	// StatePendingClose is a ticket awaiting close confirmation.
	StatePendingClose TicketState = "pending_close"

	// StateClosed is a ticket that has been closed. Terminal apart from
	// archival.
	StateClosed TicketState = "closed"

	// StateArchived is a closed ticket that has been archived. Terminal.
	StateArchived TicketState = "archived"
)

// transitions is the set of legal state transitions. Claimed back to Open is
// the unclaim path; everything else is forward only.
var transitions = map[TicketState][]TicketState{
	StateOpen:         {StateClaimed, StatePendingClose},
	StateClaimed:      {StateOpen, StatePendingClose},
	StatePendingClose: {StateOpen, StateClaimed, StateClosed},
	StateClosed:       {StateArchived},
	StateArchived:     {},
}

// Terminal reports whether the state permits no further user driven
// transitions.
func (s TicketState) Terminal() bool {
	return s == StateClosed || s == StateArchived
}

// CanTransition reports whether moving from s to the target state is legal.
func (s TicketState) CanTransition(to TicketState) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// String implements the fmt.Stringer interface.
func (s TicketState) String() string {
	return string(s)
}
