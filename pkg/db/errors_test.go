package db

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil, "ux_anything"))

	pgErr := errors.New(`ERROR: duplicate key value violates unique constraint "ux_grace_periods_open_reason" (SQLSTATE 23505)`)
	assert.True(t, IsUniqueViolation(pgErr, "ux_grace_periods_open_reason"))
	assert.True(t, IsUniqueViolation(pgErr, ""), "generic duplicate key text matches without a constraint name")

	sqliteErr := errors.New("UNIQUE constraint failed: billing_events.provider_event_id")
	assert.True(t, IsUniqueViolation(sqliteErr, ""))

	other := errors.New("connection reset by peer")
	assert.False(t, IsUniqueViolation(other, "ux_overage_box_period"))
}
