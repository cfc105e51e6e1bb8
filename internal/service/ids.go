package service

import "github.com/oklog/ulid/v2"

// External id prefixes, one per transaction kind.
const (
	prefixDeposit  = "dep"
	prefixPurchase = "buy"
	prefixReward   = "rew"
	prefixRefund   = "ref"
	prefixWithdraw = "wd"
)

// newExternalID returns a sortable, globally unique correlation id such as
// "dep_01J8Z3...".
func newExternalID(prefix string) string {
	return prefix + "_" + ulid.Make().String()
}
