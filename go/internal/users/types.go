package users

// CreateUserRequest represents the data needed to register a new user
type CreateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthenticateRequest carries login credentials and the caller's location
type AuthenticateRequest struct {
	Username  string   `json:"username"`
	Password  string   `json:"password"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// AuthenticateResponse is returned on a successful login
type AuthenticateResponse struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}
