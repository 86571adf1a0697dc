package model

// RecordListOptions controls filtering and pagination for record listing.
type RecordListOptions struct {
	// ActiveOnly restricts the listing to records still in the processing state.
	ActiveOnly bool
	// IncludeDismissed includes soft-deleted records in the listing.
	IncludeDismissed bool
	// OwnerID filters by the owning series/job id when non-empty.
	OwnerID string
	Limit   int
	Offset  int
}

// Normalize applies listing defaults and caps.
func (o *RecordListOptions) Normalize() {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Limit > 500 {
		o.Limit = 500
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}
