// Package letter implements time-locked letters: composing, listing, and the
// one-time open transition.
//
// Opening is the sensitive path. A letter may be opened by exactly one party
// (the recipient it resolves to, which can be the sender for self-sends),
// only once its unlock time has passed, and at most once: concurrent or
// repeated open calls observe an idempotent replay of the first open rather
// than a second mutation. Anonymous letters additionally schedule a delayed
// sender reveal at open time.
package letter
