// Package advisory provides the transactional advisory-lock primitive used
// by claimJob (spec.md §4.3) to guarantee exactly one decider per
// (project, job) pair.
//
// Grounded verbatim on the teacher's advisoryXactLock/advisoryKey64 in
// internal/modules/learning/steps/concept_graph_build.go, generalized from
// a single scope string to two independently hashed keys.
package advisory

import (
	"context"
	"hash/fnv"

	"gorm.io/gorm"
)

// Key64 hashes an arbitrary string into a signed 64-bit advisory-lock key
// the same way the teacher does: fnv-1a over the bytes, reinterpreted as
// int64.
func Key64(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int64(h.Sum64())
}

// XactLock takes pg_advisory_xact_lock(key1, key2) on tx. It is released
// automatically at transaction end (commit or rollback) — callers must run
// it inside an active transaction, never on a bare *gorm.DB.
func XactLock(ctx context.Context, tx *gorm.DB, scopeA, scopeB string) error {
	return tx.WithContext(ctx).Exec(
		"SELECT pg_advisory_xact_lock(?, ?)", Key64(scopeA), Key64(scopeB),
	).Error
}
