package tree

import (
	"strings"
	"time"
)

const groupPrefix = "saved-"

// groupLayout matches the millisecond UTC form used for generated names.
const groupLayout = "2006-01-02T15:04:05.000Z"

// GroupName returns the generated title for a group created at t.
func GroupName(t time.Time) string {
	return groupPrefix + t.UTC().Format(groupLayout)
}

// GroupDate decodes a generated group title. ok is false for titles chosen
// by the user.
func GroupDate(title string) (created time.Time, ok bool) {
	if !strings.HasPrefix(title, groupPrefix) {
		return time.Time{}, false
	}
	created, err := time.Parse(time.RFC3339Nano, strings.TrimPrefix(title, groupPrefix))
	if err != nil {
		return time.Time{}, false
	}
	return created, true
}

// IsAutoNamed reports whether n is a container with a generated title.
func IsAutoNamed(n *Node) bool {
	if n == nil || !n.IsContainer() {
		return false
	}
	_, ok := GroupDate(n.Title)
	return ok
}
