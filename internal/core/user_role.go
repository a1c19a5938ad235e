package core

// Role is the side of a connection the signed-in user is on
type Role string

const (
	// RoleClient sees trainer connections and the trainer catalog
	RoleClient Role = "client"
	// RoleTrainer sees client connections
	RoleTrainer Role = "trainer"
)

func (r Role) IsTrainer() bool {
	return r == RoleTrainer
}

func (r Role) Valid() bool {
	return r == RoleClient || r == RoleTrainer
}
