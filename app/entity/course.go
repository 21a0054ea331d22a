package entity

// Course is the read model of the course catalog owned by the course-management
// service. Only the fields the checkout preconditions need are mapped.
type Course struct {
	ID         uint64
	Title      string
	IsPaid     bool
	Currency   *string
	PriceCents *int64
}
