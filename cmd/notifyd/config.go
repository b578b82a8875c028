package main

// appConfig selects the backends the binary wires together.
type appConfig struct {
	// Store holds notification records: "memory" or "postgres".
	Store string `env:"NOTIFY_STORE" envDefault:"memory"`
	// DocumentStore holds preferences and templates: "" follows Store, or "mongo".
	DocumentStore string `env:"NOTIFY_DOCUMENT_STORE"`
	// Scheduler fires delayed dispatches and retries: "memory" or "redis".
	Scheduler string `env:"NOTIFY_SCHEDULER" envDefault:"memory"`
	// Events carries lifecycle events between replicas: "memory" or "redis".
	Events        string `env:"NOTIFY_EVENTS" envDefault:"memory"`
	EventsChannel string `env:"NOTIFY_EVENTS_CHANNEL" envDefault:"notify:events"`
	DirectoryFile string `env:"NOTIFY_DIRECTORY_FILE"`
}

func (c appConfig) needsRedis() bool {
	return c.Scheduler == "redis" || c.Events == "redis"
}

func (c appConfig) documentStore() string {
	if c.DocumentStore != "" {
		return c.DocumentStore
	}
	return c.Store
}
