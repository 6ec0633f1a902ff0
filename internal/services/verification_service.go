package services

import (
	"log"
	"sync"

	"github.com/PRO-DEVELOPER-1/cloud-host/internal/models"

	"gorm.io/gorm"
)

// VerificationService tracks which session references have completed the
// channel-follow gate. The in-memory set is authoritative and append-only
// for the process lifetime (a restart clears it); database rows are a
// best-effort audit trail only.
type VerificationService struct {
	mu       sync.RWMutex
	verified map[string]struct{}
	db       *gorm.DB
}

// NewVerificationService creates a verification service. db may be nil in
// tests; auditing is then skipped.
func NewVerificationService(db *gorm.DB) *VerificationService {
	return &VerificationService{
		verified: make(map[string]struct{}),
		db:       db,
	}
}

// Verify marks the session reference as verified.
func (vs *VerificationService) Verify(sessionRef string) {
	vs.mu.Lock()
	vs.verified[sessionRef] = struct{}{}
	vs.mu.Unlock()

	if vs.db != nil {
		record := models.VerificationRecord{SessionRef: sessionRef}
		if err := vs.db.Create(&record).Error; err != nil {
			log.Printf("WARNING: Failed to persist verification record: %v", err)
		}
	}
}

// IsVerified reports whether the reference passed the gate this process
// lifetime.
func (vs *VerificationService) IsVerified(sessionRef string) bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	_, ok := vs.verified[sessionRef]
	return ok
}
