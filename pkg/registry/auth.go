package registry

// ClientAuth is the identity attached to each inbound request by the
// peer authenticator (C6). It is immutable once attached.
type ClientAuth struct {
	ID    string
	Group string
}

// AdminGroup is the only group literal that grants the admin
// override throughout the registry.
const AdminGroup = "admin"

// IsAdmin reports whether this identity carries the admin override.
func (a ClientAuth) IsAdmin() bool {
	return a.Group == AdminGroup
}
