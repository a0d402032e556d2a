package companion

import (
	"time"

	"github.com/solacelabs/tandem/internal/types"
)

// Config configures a companion client.
type Config struct {
	// ServerURL is the base URL of the tandem server, e.g. "http://localhost:8080".
	ServerURL string

	// APIKey authenticates requests to the server.
	APIKey string

	// Member identifies which half of the couple this client acts as.
	Member types.Member

	// WatchTimeout bounds each long-poll watch request. Defaults to 30s.
	WatchTimeout time.Duration

	// PageSize is the change-feed page size during bootstrap. Defaults to 500.
	PageSize int
}

// SyncStats reports the outcome of a bootstrap or catch-up pass.
type SyncStats struct {
	Applied      int
	LastSequence int64
	Duration     time.Duration
}

// HealthStatus reports client and server health.
type HealthStatus struct {
	ServerReachable bool
	ServerVersion   string
	NeedCount       int64
	LastError       string
}

// Dashboard is the locally derived read-side view for the configured member.
type Dashboard struct {
	Mine          []types.NeedCard
	Partners      []types.NeedCard
	Notifications int
}
