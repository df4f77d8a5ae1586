package domain

type Role string

const (
	RoleFarmer Role = "farmer"
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleFarmer || r == RoleOwner || r == RoleAdmin
}

// Actor is the authenticated caller. Identity is established upstream.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

func (a Actor) IsFarmerOf(b Booking) bool {
	return a.ID != "" && a.ID == b.FarmerID
}

func (a Actor) IsOwnerOf(b Booking) bool {
	return a.ID != "" && a.ID == b.OwnerID
}

func (a Actor) IsPartyTo(b Booking) bool {
	return a.IsFarmerOf(b) || a.IsOwnerOf(b)
}
