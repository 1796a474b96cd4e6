package subscription

// AuthType enumerates how a delivery authenticates to the target endpoint.
type AuthType string

const (
	// AuthNone sends no Authorization header.
	AuthNone AuthType = "none"

	// AuthBasic sends "Authorization: Basic base64(username:password)".
	AuthBasic AuthType = "basic"

	// AuthBearer sends "Authorization: Bearer <token>".
	AuthBearer AuthType = "bearer"

	// AuthCustomHeader sends a caller-named header with a stored value.
	AuthCustomHeader AuthType = "custom_header"

	// AuthOAuth2 is declared but not implemented; header construction
	// logs and skips it rather than failing the delivery.
	AuthOAuth2 AuthType = "oauth2"
)

// Valid reports whether t is a known auth type.
func (t AuthType) Valid() bool {
	switch t {
	case AuthNone, AuthBasic, AuthBearer, AuthCustomHeader, AuthOAuth2:
		return true
	default:
		return false
	}
}

// Auth describes a subscription's authentication. Credential fields hold
// ciphertext produced by the configured Cipher; they are decrypted only
// at header-construction time.
type Auth struct {
	Type AuthType `json:"type"`

	// Username and Password are used by AuthBasic. Stored encrypted.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// Token is used by AuthBearer. Stored encrypted.
	Token string `json:"token,omitempty"`

	// HeaderName and HeaderValue are used by AuthCustomHeader.
	// HeaderValue is stored encrypted.
	HeaderName  string `json:"header_name,omitempty"`
	HeaderValue string `json:"header_value,omitempty"`
}

// Cipher is the encryption-at-rest primitive for stored credentials.
// Courier consumes it as an opaque collaborator; the host application
// supplies the implementation.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// NoopCipher passes credentials through unchanged. It is the default when
// no Cipher is configured, suitable for development and tests only.
type NoopCipher struct{}

// Encrypt returns the plaintext unchanged.
func (NoopCipher) Encrypt(plaintext string) (string, error) { return plaintext, nil }

// Decrypt returns the ciphertext unchanged.
func (NoopCipher) Decrypt(ciphertext string) (string, error) { return ciphertext, nil }
