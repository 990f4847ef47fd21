package stores

// EventFilter narrows event listings. Nil fields match everything.
type EventFilter struct {
	// Resource restricts events to one resource name.
	Resource *string

	// Level restricts events to one severity level.
	Level *string

	// Limit bounds the number of returned events.
	Limit int

	// Offset skips the given number of events.
	Offset int
}
