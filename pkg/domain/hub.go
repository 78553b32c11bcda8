package domain

// HubStats provides statistics about the hub
type HubStats struct {
	Lines            int     `json:"lines"`
	ConnectedLines   int     `json:"connected_lines"`
	PendingPairings  int     `json:"pending_pairings"`
	MessagesAppended int64   `json:"messages_appended"`
	EventsPublished  int64   `json:"events_published"`
	Uptime           float64 `json:"uptime_seconds"`
}
