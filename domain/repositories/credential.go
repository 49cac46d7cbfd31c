package repositories

// CredentialStore resolves the API key used for the remote service
type CredentialStore interface {
	// Resolve returns the effective credential, or "" when none is usable.
	Resolve() string
	// SetOverride stores a local override that takes precedence over the environment.
	SetOverride(key string) error
}
