package identity

import "errors"

// ErrAdminDisabled is returned when no admin secret is configured.
var ErrAdminDisabled = errors.New("admin operations are not configured")

// AdminAuthorizer guards privileged operations.
type AdminAuthorizer interface {
	// Authorize returns (false, nil) on a wrong token and ErrAdminDisabled
	// when the server holds no secret at all.
	Authorize(token string) (bool, error)
}

// SecretAuthorizer compares the presented token with a server-held secret
// by plain string equality.
type SecretAuthorizer struct {
	secret string
}

func NewSecretAuthorizer(secret string) *SecretAuthorizer {
	return &SecretAuthorizer{secret: secret}
}

func (a *SecretAuthorizer) Authorize(token string) (bool, error) {
	if a.secret == "" {
		return false, ErrAdminDisabled
	}
	return token == a.secret, nil
}

// Configured reports whether a secret is set.
func (a *SecretAuthorizer) Configured() bool {
	return a.secret != ""
}
