package session

import (
	"fmt"
	"regexp"
)

var userRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateUser checks that userID is safe to use as a directory name and a
// query parameter.
func ValidateUser(userID string) error {
	if !userRegexp.MatchString(userID) {
		return fmt.Errorf("invalid user id %q: must match ^[a-z0-9_-]{1,64}$", userID)
	}
	return nil
}
