package core

import "time"

type AppConfig interface {
	GetRuntimePath() string
	GetDatabasePath() string
	GetUploadsPath() string
}

type OrchestratorConfig interface {
	GetMaxToolRounds() int
	GetStreamTimeout() time.Duration
	GetTitleMaxTokens() int
}
