package models

// Contact holds the delivery addresses the identity service keeps for a user.
// Empty fields mean the user has no address for that channel type.
type Contact struct {
	TenantID     string `json:"tenantId" db:"tenant_id"`
	UserID       string `json:"userId" db:"user_id"`
	Email        string `json:"email,omitempty" db:"email"`
	Phone        string `json:"phone,omitempty" db:"phone"`
	PushEndpoint string `json:"pushEndpoint,omitempty" db:"push_endpoint"`
}
