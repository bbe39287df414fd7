package billing

type Plan string

const (
	PlanSubscription Plan = "subscription"
	PlanConsultation Plan = "consultation"
	PlanAmulet       Plan = "amulet"
)

func (p Plan) Valid() bool {
	switch p {
	case PlanSubscription, PlanConsultation, PlanAmulet:
		return true
	}
	return false
}

// GrantsGroupAccess reports whether a confirmed payment for the plan
// extends the private-group subscription. One-off services do not.
func (p Plan) GrantsGroupAccess() bool {
	return p == PlanSubscription
}

// Invoice payloads for the in-platform payment path.
const (
	PayloadMonthSubscription = "month_subscription"
	PayloadYearSubscription  = "year_subscription"
)

// DefaultDurationDays is used when a confirmed subscription amount has
// no entry in the pricing table. The fallback is logged by the caller.
const DefaultDurationDays = 30

// subscriptionDays maps a paid amount in kopecks to the purchased
// subscription duration.
var subscriptionDays = map[int64]int{
	50000:  30,
	500000: 365,
}

// DurationForAmount resolves a confirmed amount to a day count.
// The second return value is false when the amount is unmapped and the
// default was applied.
func DurationForAmount(amount int64) (int, bool) {
	if days, ok := subscriptionDays[amount]; ok {
		return days, true
	}
	return DefaultDurationDays, false
}

// DurationForPayload resolves an invoice payload to a day count.
func DurationForPayload(payload string) int {
	if payload == PayloadMonthSubscription {
		return 30
	}
	return 365
}
