package cursor

// SkipPolicy controls whether positions already in the individually-
// deleted set count toward the n in skip_entries/get_nth_entry.
type SkipPolicy int

const (
	// IncludeIndividuallyDeleted counts every position, acked or not.
	IncludeIndividuallyDeleted SkipPolicy = iota
	// ExcludeIndividuallyDeleted skips acked positions for free; they
	// do not count toward n.
	ExcludeIndividuallyDeleted
)

// State is the cursor lifecycle: Active -> Closed -> Deleted.
// DeleteDurable only moves a Closed cursor to Deleted.
type State int

const (
	Active State = iota
	Closed
	Deleted
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Closed:
		return "closed"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Stats is a read-only operational snapshot of a cursor, supplementing
// spec.md with the surface real cursor managers expose for monitoring
// (SPEC_FULL.md supplemented feature 2).
type Stats struct {
	Name                   string
	ReadPosition           string
	MarkDeletePosition     string
	NumberOfEntries        int64
	NumberOfEntriesInBacklog int64
	IndividuallyDeletedCount int64
	UsingCursorLedger      bool
}
