package config

// Cache backends
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendNone   = "none"
)

// ValidBackends lists the accepted cache.backend values
var ValidBackends = map[string]bool{
	BackendFile:   true,
	BackendSQLite: true,
	BackendNone:   true,
}

// ValidLogLevels lists the accepted logging.level values
var ValidLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidPriorities lists the ntfy priorities accepted by notify.priority
var ValidPriorities = map[string]bool{
	"min":     true,
	"low":     true,
	"default": true,
	"high":    true,
	"urgent":  true,
}
