// Package identity supplies the owner identifier that partitions every
// entity: a remote account id once the user signs in, or a local-only
// sentinel for anonymous use.
package identity

// LocalOwner is the sentinel owner id used before an account exists.
const LocalOwner = "local"

// Resolver reports the current actor. It is constructed once at startup from
// config; a sign-in takes effect on next launch.
type Resolver struct {
	accountID string
}

func NewResolver(accountID string) *Resolver {
	return &Resolver{accountID: accountID}
}

// OwnerID returns the partition key for all entity reads and writes.
func (r *Resolver) OwnerID() string {
	if r.accountID == "" {
		return LocalOwner
	}
	return r.accountID
}

// Anonymous reports whether the device has no remote account. While
// anonymous, outbox records accumulate but draining is a no-op.
func (r *Resolver) Anonymous() bool {
	return r.accountID == ""
}
