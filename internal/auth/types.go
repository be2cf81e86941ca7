package auth

// Role gates what a token holder may do against the engine
type Role string

const (
	RoleViewer   Role = "viewer"   // read-only queries and the event stream
	RoleOperator Role = "operator" // may also close positions and edit strategy settings
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleViewer || r == RoleOperator
}

// Allows reports whether r satisfies the minimum role
func (r Role) Allows(min Role) bool {
	if min == RoleViewer {
		return r.Valid()
	}
	return r == RoleOperator
}

// OperatorClaims is the identity carried inside an access token
type OperatorClaims struct {
	Subject string `json:"sub_name"`
	Role    Role   `json:"role"`
}

// TokenResponse is returned when a token is issued
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// AuthError carries a stable code for API clients
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common authentication errors
var (
	ErrInvalidToken = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrForbidden    = AuthError{Code: "FORBIDDEN", Message: "access forbidden"}
	ErrInvalidRole  = AuthError{Code: "INVALID_ROLE", Message: "unknown role"}
)
