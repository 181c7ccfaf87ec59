package ai

import (
	"fmt"

	apperrors "subtrack/internal/errors"
)

// Opener unseals a stored API key.
type Opener interface {
	Decrypt(sealed string) (string, error)
}

// Credential carries a sealed API key. The plaintext only exists inside Use.
// Formatting a Credential never prints the key or the ciphertext.
type Credential struct {
	sealed string
	opener Opener
}

// NewCredential wraps a sealed key with the opener that can unseal it.
func NewCredential(sealed string, opener Opener) Credential {
	return Credential{sealed: sealed, opener: opener}
}

// IsZero reports whether no key is stored.
func (c Credential) IsZero() bool { return c.sealed == "" }

// Use unseals the key and passes it to fn. An empty credential passes "".
// Callers must not retain the key beyond fn.
func (c Credential) Use(fn func(apiKey string) error) error {
	if c.sealed == "" {
		return fn("")
	}
	if c.opener == nil {
		return apperrors.Wrap(apperrors.ErrProviderInvalidCredentials, fmt.Errorf("no key opener configured"))
	}

	key, err := c.opener.Decrypt(c.sealed)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrProviderInvalidCredentials, fmt.Errorf("unsealing api key: %w", err))
	}
	return fn(key)
}

// String implements fmt.Stringer.
func (c Credential) String() string {
	if c.sealed == "" {
		return "<none>"
	}
	return "<redacted>"
}

// GoString implements fmt.GoStringer so %#v stays redacted too.
func (c Credential) GoString() string { return c.String() }

// MarshalJSON keeps credentials out of JSON logs and responses.
func (c Credential) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}
