package session

import (
	"github.com/google/uuid"
)

// KeyForPair derives the idempotency key for a matched pair. The two
// listing ids are ordered lexicographically first, so both orderings of
// the same pair produce one key. The key doubles as the external
// channel tag used for reconciliation.
func KeyForPair(a, b uuid.UUID) string {
	lo, hi := a.String(), b.String()
	if hi < lo {
		lo, hi = hi, lo
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("session|"+lo+"|"+hi)).String()
}
