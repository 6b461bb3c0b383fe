package zmb

import (
	"fmt"
	"regexp"
)

// User is a registered batch API user.
type User struct {
	// Username is the unique name of the user.
	Username string

	// APIKey is the user's API key.  It is stored verbatim for wire
	// compatibility with existing deployments.
	APIKey string
}

// Username and API key shape constraints.
var (
	usernamePat = regexp.MustCompile(`^[A-Za-z0-9.\-@]{1,50}$`)
	apiKeyPat   = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,512}$`)
)

// ValidUsername reports whether s is a well-formed username.
func ValidUsername(s string) (ok bool) {
	return usernamePat.MatchString(s)
}

// ValidAPIKey reports whether s is a well-formed API key.
func ValidAPIKey(s string) (ok bool) {
	return apiKeyPat.MatchString(s)
}

// NewUser validates username and apiKey and returns the user.
func NewUser(username, apiKey string) (u *User, err error) {
	if !ValidUsername(username) {
		return nil, &ArgumentError{
			Name:    "username",
			Message: fmt.Sprintf("bad username %q", username),
		}
	}

	if !ValidAPIKey(apiKey) {
		return nil, &ArgumentError{
			Name:    "api_key",
			Message: "bad api key",
		}
	}

	return &User{
		Username: username,
		APIKey:   apiKey,
	}, nil
}
