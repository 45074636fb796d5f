package jwt

const (
	RoleUser Role = iota
)

var roleSecrets = map[Role]string{}

// SetRoleSecret wires a signing secret for a role. The server mains call
// this after env validation; tests call it directly.
func SetRoleSecret(role Role, secret string) {
	roleSecrets[role] = secret
}
