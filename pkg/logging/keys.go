package logging

const (
	// KeyAppName is the key for the application name.
	KeyAppName = `app`

	// KeyError is the key for an error.
	KeyError = `err`

	// KeyDal is the key for the data access layer.
	KeyDal = `dal`

	// KeyGuild is the key for a guild ID.
	KeyGuild = `guild`

	// KeyTicket is the key for a ticket ID.
	KeyTicket = `ticket`

	// KeyUser is the key for a user ID.
	KeyUser = `user`

	// KeyChannel is the key for a channel ID.
	KeyChannel = `channel`

	// KeyState is the key for a ticket state.
	KeyState = `state`

	// KeyInteraction is the key for an interaction ID.
	KeyInteraction = `interaction`
)
