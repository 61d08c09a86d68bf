package shared_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/meridian-commerce/meridian-admin/internal/shared"
	_ "github.com/meridian-commerce/meridian-admin/testing"
)

func TestOccurredAtDefaultsToNow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	entry := shared.AuditLog{Action: "user.delete", Entity: "user", EntityID: "4"}
	assert.Equal(t, now, entry.OccurredAt(now), "unset timestamp falls back to now")

	at := now.Add(-time.Hour)
	entry.At = at
	assert.Equal(t, at, entry.OccurredAt(now), "explicit timestamp is kept")
}
