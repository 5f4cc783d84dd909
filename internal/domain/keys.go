package domain

import "time"

// KeyPrefix namespaces every key the service writes to the shared cache store.
const KeyPrefix = "underfoot:"

// ExpiresAtUnix returns now+ttl in unix seconds, rounded up so an entry is
// never stamped as expired before its ttl has elapsed.
func ExpiresAtUnix(now time.Time, ttl time.Duration) int64 {
	at := now.Add(ttl)
	sec := at.Unix()
	if at.After(time.Unix(sec, 0)) {
		sec++
	}
	return sec
}
