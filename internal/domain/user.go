package domain

// User is a reference to an external identity. The tracker only checks that it exists.
type User struct {
	ID          string `json:"user_id"`
	DisplayName string `json:"display_name"`
}
