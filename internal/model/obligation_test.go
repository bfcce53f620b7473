package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObligationID(t *testing.T) {
	id, err := ParseObligationID("mainnet:4xR7aQ")
	require.NoError(t, err)
	assert.Equal(t, ObligationID{Network: "mainnet", LedgerID: "4xR7aQ"}, id)
	assert.Equal(t, "mainnet:4xR7aQ", id.String())

	for _, bad := range []string{"", "noseparator", ":leading", "trailing:"} {
		_, err := ParseObligationID(bad)
		assert.Error(t, err, bad)
	}
}

func TestDueWithin(t *testing.T) {
	now := time.Now().UTC()
	o := &Obligation{IsActive: true, NextDue: now.Add(30 * time.Minute)}

	assert.False(t, o.DueWithin(now, 0))
	assert.True(t, o.DueWithin(now, time.Hour))

	o.IsActive = false
	assert.False(t, o.DueWithin(now, time.Hour))
}

func TestDeactivateIsTerminal(t *testing.T) {
	now := time.Now().UTC()
	o := &Obligation{IsActive: true}

	o.Deactivate(ReasonEndDateReached, now)
	assert.False(t, o.IsActive)
	require.NotNil(t, o.CancellationReason)
	assert.Equal(t, ReasonEndDateReached, *o.CancellationReason)

	// A second deactivation must not overwrite the original reason.
	o.Deactivate(ReasonAutoCancelledFailures, now.Add(time.Hour))
	assert.Equal(t, ReasonEndDateReached, *o.CancellationReason)
	assert.Equal(t, now, *o.CancelledAt)
}

func TestCapReached(t *testing.T) {
	o := &Obligation{PaymentCount: 3}
	assert.False(t, o.CapReached())

	max := int64(3)
	o.MaxPayments = &max
	assert.True(t, o.CapReached())

	o.PaymentCount = 2
	assert.False(t, o.CapReached())
}
