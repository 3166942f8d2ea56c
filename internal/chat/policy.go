package chat

import "time"

// Policy holds the tunable constants of the domain.
type Policy struct {
	// OnlineWindow: a user is online iff now-lastSeen <= OnlineWindow.
	OnlineWindow time.Duration
	// TypingWindow: a user is typing iff now-lastTyped <= TypingWindow.
	TypingWindow time.Duration
	// PollInterval is how often presence and typing subscriptions refresh.
	PollInterval time.Duration
	// SearchLimit caps search results.
	SearchLimit int
	// PageSize is the default messages:listPage size; MaxPageSize caps it.
	PageSize    int
	MaxPageSize int
}

// DefaultPolicy returns the standard constants.
func DefaultPolicy() Policy {
	return Policy{
		OnlineWindow: 60 * time.Second,
		TypingWindow: 3 * time.Second,
		PollInterval: 2 * time.Second,
		SearchLimit:  50,
		PageSize:     50,
		MaxPageSize:  200,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.OnlineWindow <= 0 {
		p.OnlineWindow = d.OnlineWindow
	}
	if p.TypingWindow <= 0 {
		p.TypingWindow = d.TypingWindow
	}
	if p.PollInterval <= 0 {
		p.PollInterval = d.PollInterval
	}
	if p.SearchLimit <= 0 {
		p.SearchLimit = d.SearchLimit
	}
	if p.PageSize <= 0 {
		p.PageSize = d.PageSize
	}
	if p.MaxPageSize <= 0 {
		p.MaxPageSize = d.MaxPageSize
	}
	return p
}
