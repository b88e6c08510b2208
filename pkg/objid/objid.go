// Package objid defines the identity types shared by every layer of the
// local object store: object ids and version numbers.
package objid

import (
	"strings"

	"github.com/xspvault/xspcore/pkg/xerrors"
)

// ID identifies an object within a namespace. The zero value (empty string)
// denotes the single distinguished root object of that namespace (spec §3:
// "An object id is either absent ... or a URL-safe base64 string").
type ID string

// IsRoot reports whether id denotes the namespace's root object.
func (id ID) IsRoot() bool { return id == "" }

// RootSentinel is the fixed path section used for the root object inside
// the access bucket (spec §3).
const RootSentinel = "=root="

// urlSafeBase64Alphabet is the alphabet object ids must be drawn from.
const urlSafeBase64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// Validate checks id against the namespace's sharding parameters: it must
// be long enough to provide every shard section (numSplits*charsPerSplit)
// and short enough to fit under the nonce-derived upper bound, and every
// character must come from the URL-safe base64 alphabet.
func Validate(id ID, numSplits, charsPerSplit, nonceByteLen int) error {
	if id.IsRoot() {
		return nil
	}
	s := string(id)
	minLen := numSplits * charsPerSplit
	maxLen := (4 * nonceByteLen) / 3
	if len(s) < minLen {
		return xerrors.New(xerrors.KindStorage, xerrors.CodeInvalidObjectID, "object id too short").
			WithContext("id", s)
	}
	if len(s) >= maxLen {
		return xerrors.New(xerrors.KindStorage, xerrors.CodeInvalidObjectID, "object id too long").
			WithContext("id", s)
	}
	for _, r := range s {
		if !strings.ContainsRune(urlSafeBase64Alphabet, r) {
			return xerrors.New(xerrors.KindStorage, xerrors.CodeInvalidObjectID, "object id has invalid character").
				WithContext("id", s)
		}
	}
	return nil
}

// ShardSections splits id into numSplits sections of charsPerSplit
// characters each, followed by a final section holding the remainder
// (spec §3: "x[0..c), x[c..2c), ..., x[(s-1)c..sc), x[sc..]]").
func ShardSections(id ID, numSplits, charsPerSplit int) []string {
	if id.IsRoot() {
		return []string{RootSentinel}
	}
	s := string(id)
	sections := make([]string, 0, numSplits+1)
	for i := 0; i < numSplits; i++ {
		start := i * charsPerSplit
		end := start + charsPerSplit
		if start > len(s) {
			start = len(s)
		}
		if end > len(s) {
			end = len(s)
		}
		sections = append(sections, s[start:end])
	}
	tailStart := numSplits * charsPerSplit
	if tailStart > len(s) {
		tailStart = len(s)
	}
	sections = append(sections, s[tailStart:])
	return sections
}

// Version is a per-object, monotonically increasing version number. Zero
// means "no version" and is never assigned to a stored version.
type Version uint64

// None is the zero Version, used where spec.md writes an optional version
// number as absent.
const None Version = 0

// IsNone reports whether v denotes the absence of a version.
func (v Version) IsNone() bool { return v == None }
