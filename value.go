package cachette

import "time"

// absentSentinel is the distinguished "no such entry" value (SPEC_FULL.md
// §3, GLOSSARY). It is never itself storable: Set rejects it.
type absentSentinel struct{}

// Absent is returned by Get/GetOrFetch in place of a missing value. Compare
// with ==, or use IsAbsent.
var Absent any = absentSentinel{}

// IsAbsent reports whether v is the absence sentinel.
func IsAbsent(v any) bool {
	_, ok := v.(absentSentinel)
	return ok
}

// KeyedMap is a string-keyed map whose identity as a "map" (as opposed to a
// plain record) survives the codec round trip (SPEC_FULL.md §4.1 edge
// cases: "nested records containing keyed-map and set members").
type KeyedMap map[string]any

// ValueSet is an ordered collection whose identity as a "set" (as opposed to
// a plain sequence) survives the codec round trip.
type ValueSet []any

// CachedError is the reconstruction of an error object after a round trip
// through the codec: {message, ...copyableProperties} (SPEC_FULL.md §4.1).
// Go has no generic way to resurrect the original concrete error type, so
// decode always yields *CachedError; Props holds every enumerable property
// other than "message" (e.g. "name", "retryable", "myStringProperty").
type CachedError struct {
	Message string
	Props   map[string]any
}

func (e *CachedError) Error() string { return e.Message }

// ttlKind distinguishes the three states GetTTL can report (SPEC_FULL.md §4.2/4.3).
type ttlKind int

const (
	ttlNoSuchEntry ttlKind = iota
	ttlNonExpiring
	ttlRemaining
)

// TTLStatus is the result of a GetTTL call.
type TTLStatus struct {
	kind      ttlKind
	remaining time.Duration
}

// NoSuchEntry reports the entry is absent (and so has no TTL at all).
func (s TTLStatus) NoSuchEntry() bool { return s.kind == ttlNoSuchEntry }

// NonExpiring reports the entry exists but carries no expiration.
func (s TTLStatus) NonExpiring() bool { return s.kind == ttlNonExpiring }

// Remaining returns the time left before expiry. Only meaningful when
// neither NoSuchEntry nor NonExpiring holds.
func (s TTLStatus) Remaining() time.Duration { return s.remaining }

func ttlStatusNoSuchEntry() TTLStatus { return TTLStatus{kind: ttlNoSuchEntry} }
func ttlStatusNonExpiring() TTLStatus { return TTLStatus{kind: ttlNonExpiring} }
func ttlStatusRemaining(d time.Duration) TTLStatus {
	return TTLStatus{kind: ttlRemaining, remaining: d}
}
