package core

// Credentials is a username/password pair held by a single driver.
type Credentials struct {
	Username string `json:"username" yaml:"username" validate:"required"`
	Password string `json:"-" yaml:"password" validate:"required"`
}

// NewCredentials returns credentials when both parts are present.
func NewCredentials(username, password string) (Credentials, error) {
	if username == "" {
		return Credentials{}, NewValidationError("username", "username is required")
	}
	if password == "" {
		return Credentials{}, NewValidationError("password", "password is required")
	}
	return Credentials{Username: username, Password: password}, nil
}

// String hides the password.
func (c Credentials) String() string {
	return c.Username + ":********"
}
