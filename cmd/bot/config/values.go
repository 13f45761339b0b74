package config

import "time"

const (
	// AppName is the name of the application.
	AppName = "sprout"

	// EnvBotToken is the environment variable for the bot token.
	EnvBotToken = `BOT_TOKEN`

	// EnvApplicationId is the environment variable for the application ID.
	EnvApplicationId = `APPLICATION_ID`

	// EnvMongoUri is the environment variable for the MongoDB URI.
	EnvMongoUri = `MONGO_URI`

	// EnvMonitoringPort is the environment variable for the monitoring port.
	EnvMonitoringPort = `MONITORING_PORT`

	// EnvArchiveRetention is the environment variable for how long a closed
	// ticket is kept before the archive sweep picks it up.
	EnvArchiveRetention = `ARCHIVE_RETENTION`
)

var (
	// BotToken is the token for the bot.
	BotToken string

	// ApplicationId is the ID of the application.
	ApplicationId string

	// MongoUri is the URI for the MongoDB database.
	MongoUri string

	// MonitoringPort is the port for the monitoring server.
	MonitoringPort string

	// ArchiveRetention is how long closed tickets are kept before archival.
	ArchiveRetention = 24 * time.Hour
)
