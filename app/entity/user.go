package entity

// User is the read model of the account store owned by the accounts service.
type User struct {
	ID    uint64
	Email string
}
