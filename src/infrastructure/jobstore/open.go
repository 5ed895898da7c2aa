package jobstore

import (
	"gorm.io/gorm"

	"reelforge/src/log"
)

// Open selects the job store backend once at construction. With a nil db
// (durable store unreachable) it degrades to the in-memory store for the
// lifetime of the process, logging a single warning; callers never branch
// on which backend is active. The fallback loses all state on restart,
// which polling clients observe as unknown ids, not corrupted records.
func Open(db *gorm.DB) Store {
	if db == nil {
		log.Info("durable job store unavailable, using in-memory store; job state will not survive a restart")
		return NewMemoryStore()
	}

	store, err := NewPostgresStore(db)
	if err != nil {
		log.Error(err, "failed to prepare jobs table, using in-memory store; job state will not survive a restart")
		return NewMemoryStore()
	}

	return store
}
