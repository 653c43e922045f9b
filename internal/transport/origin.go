package transport

import "strings"

// originAllowed implements section 4.1.2: absent Origin is accepted;
// otherwise the entry must match exactly or be a "entry:port" prefix; a
// literal "*" entry disables the check.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	for _, entry := range allowed {
		if entry == "*" {
			return true
		}
		if origin == entry {
			return true
		}
		if strings.HasPrefix(origin, entry+":") {
			return true
		}
	}
	return false
}
