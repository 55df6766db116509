// Package paircache provides the bounded, in-process LLM pair-verdict
// cache used by the dedup engine. It is a process-local optimization, never
// a source of truth — unlike embeddings (internal/llm.CachedClient), a pair
// verdict is cheap enough to recompute that persisting it across restarts
// isn't worth the staleness risk.
package paircache

import (
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Verdict mirrors model.PairVerdict without importing internal/model, so
// this package has no domain dependency beyond the string values it stores.
type Verdict string

// Cache is a bounded, order-independent cache of LLM pair-classification
// verdicts.
type Cache struct {
	lru *lru.Cache[string, Verdict]
}

// New creates a Cache holding at most maxEntries verdicts, evicting least
// recently used entries once full.
func New(maxEntries int) (*Cache, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	l, err := lru.New[string, Verdict](maxEntries)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Get looks up the verdict for a text pair. Order of a, b does not matter:
// canonicalization sorts the normalized pair before joining it into the key
// so (a, b) and (b, a) hit
// the same entry.
func (c *Cache) Get(a, b string) (Verdict, bool) {
	return c.lru.Get(key(a, b))
}

// Put records the verdict for a text pair.
func (c *Cache) Put(a, b string, v Verdict) {
	c.lru.Add(key(a, b), v)
}

// Len reports the current number of cached entries, for tests and metrics.
func (c *Cache) Len() int {
	return c.lru.Len()
}

func key(a, b string) string {
	na, nb := normalize(a), normalize(b)
	if na > nb {
		na, nb = nb, na
	}
	return na + "\x00" + nb
}

// normalize lowercases and collapses internal whitespace so two texts that
// differ only in casing or spacing still map to the same cache key — the
// LLM's classification of a pair is invariant to that kind of noise.
func normalize(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), unicode.IsSpace)
	return strings.Join(fields, " ")
}
