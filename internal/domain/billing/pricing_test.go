package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDurationForAmount(t *testing.T) {
	days, mapped := DurationForAmount(50000)
	assert.True(t, mapped)
	assert.Equal(t, 30, days)

	days, mapped = DurationForAmount(500000)
	assert.True(t, mapped)
	assert.Equal(t, 365, days)

	days, mapped = DurationForAmount(999999)
	assert.False(t, mapped, "unknown amounts fall back, not fail")
	assert.Equal(t, DefaultDurationDays, days)
}

func TestDurationForPayload(t *testing.T) {
	assert.Equal(t, 30, DurationForPayload(PayloadMonthSubscription))
	assert.Equal(t, 365, DurationForPayload(PayloadYearSubscription))
	assert.Equal(t, 365, DurationForPayload("legacy_payload"))
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusAwaitingReview.IsTerminal())
	assert.True(t, StatusConfirmed.IsTerminal())
	assert.True(t, StatusRejected.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}

func TestPlanChecks(t *testing.T) {
	assert.True(t, PlanSubscription.Valid())
	assert.True(t, PlanConsultation.Valid())
	assert.True(t, PlanAmulet.Valid())
	assert.False(t, Plan("yacht").Valid())

	assert.True(t, PlanSubscription.GrantsGroupAccess())
	assert.False(t, PlanConsultation.GrantsGroupAccess())
	assert.False(t, PlanAmulet.GrantsGroupAccess())
}
