// Package messages contains the user facing messages for the bot.
package messages

const (
	// ErrUserErrorProcessing is the generic message sent to a user when a
	// command fails for a reason that is not their fault.
	ErrUserErrorProcessing = `Something went wrong while processing your request. Please try again later.`

	// ErrNotConfigured is sent when ticketing has not been set up in the guild.
	ErrNotConfigured = `Ticketing has not been set up in this server. An administrator needs to run the setup command first.`

	// ErrQuotaExceeded is sent when a user is at their open ticket limit.
	ErrQuotaExceeded = `You have reached the maximum number of open tickets for this server. Please close an existing ticket first.`

	// ErrNotStaff is sent when a non staff member attempts a staff action.
	ErrNotStaff = `You do not have a staff role for tickets in this server.`

	// ErrNoTicketHere is sent when a ticket action is used outside a ticket channel.
	ErrNoTicketHere = `This channel is not a ticket.`

	// ErrUnknownPriority is sent when a priority label is not configured.
	ErrUnknownPriority = `That priority is not configured for this server.`
)
