// Package statehash provides the pure, deterministic fingerprints that give
// application states a reproducible identity. Identical input always yields
// identical output, which is what makes node dedup possible across
// independent worker executions.
package statehash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	"github.com/groblegark/crawlgraph/internal/model"
)

// NormalizeURL canonicalizes a URL for state identity: lowercased scheme and
// host, sorted query parameters, fragment stripped, trailing slash on
// non-root paths removed. Unparseable input is returned unchanged so it can
// still act as a (degraded) identity.
func NormalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			for _, v := range vals {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String()
}

// Fingerprint is the storage fingerprint of a page: key names plus one-way
// hashes of each value. Raw values never appear; they may hold secrets.
type Fingerprint struct {
	LocalKeys    []string          `json:"local_keys"`
	SessionKeys  []string          `json:"session_keys"`
	LocalHashes  map[string]string `json:"local_hashes"`
	SessionHashes map[string]string `json:"session_hashes"`
}

// StorageFingerprint reduces raw local/session storage to sorted key sets
// and per-value hashes.
func StorageFingerprint(snap model.StorageSnapshot) Fingerprint {
	fp := Fingerprint{
		LocalKeys:     sortedKeys(snap.Local),
		SessionKeys:   sortedKeys(snap.Session),
		LocalHashes:   hashValues(snap.Local),
		SessionHashes: hashValues(snap.Session),
	}
	return fp
}

// StateHash fingerprints the auth+storage state of a page: a hash of the
// canonical (key-sorted) JSON of both.
func StateHash(auth model.AuthState, fp Fingerprint) string {
	sort.Strings(auth.CookieKeys)
	sort.Strings(auth.TokenKeys)
	payload := struct {
		Auth    model.AuthState `json:"auth"`
		Storage Fingerprint     `json:"storage"`
	}{auth, fp}
	// encoding/json marshals map keys in sorted order, which makes this
	// canonical without extra work.
	data, err := json.Marshal(payload)
	if err != nil {
		return Hash([]byte(err.Error()))
	}
	return Hash(data)
}

// A11yHash fingerprints the accessibility tree: a hash of the sorted list of
// "role|label|name" triples.
func A11yHash(entries []model.A11yEntry) string {
	triples := make([]string, len(entries))
	for i, e := range entries {
		triples[i] = e.Role + "|" + e.Label + "|" + e.Name
	}
	sort.Strings(triples)
	return Hash([]byte(strings.Join(triples, "\n")))
}

// ContentHash fingerprints visible text snippets. Returns "" when there are
// no entries, so callers can treat it as absent.
func ContentHash(entries []string) string {
	if len(entries) == 0 {
		return ""
	}
	sorted := make([]string, len(entries))
	copy(sorted, entries)
	sort.Strings(sorted)
	return Hash([]byte(strings.Join(sorted, "\n")))
}

// InputHash fingerprints the observed input-field values of a page, so two
// visits to the same form with the same contents resolve to the same node
// even when validation messages perturb the a11y tree. Returns "" when no
// inputs are present.
func InputHash(inputs []model.InputState) string {
	if len(inputs) == 0 {
		return ""
	}
	pairs := make([]string, len(inputs))
	for i, in := range inputs {
		pairs[i] = in.Selector + "=" + Hash([]byte(in.Value))
	}
	sort.Strings(pairs)
	return Hash([]byte(strings.Join(pairs, "\n")))
}

// Hash returns the hex SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString returns the hex SHA-256 of a string. Used for the run-scoped
// secret reverse map: only the hash is ever persisted.
func HashString(s string) string {
	return Hash([]byte(s))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func hashValues(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = Hash([]byte(v))
	}
	return out
}
