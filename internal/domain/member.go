package domain

// Member represents user's participation meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	User User
	// Authenticated is false for guests admitted while auth is disabled.
	Authenticated bool
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(user User, authenticated bool) Member {
	return Member{User: user, Authenticated: authenticated}
}
