package model

import "fmt"

// SegmentKey names one of the compiled-in audience segments. The set is closed
// so an unknown key fails at launch validation instead of resolving to an
// empty audience.
type SegmentKey string

const (
	// SegmentUnclaimedListings targets suppliers with an unclaimed directory listing.
	SegmentUnclaimedListings SegmentKey = "unclaimed_listings"
	// SegmentDormantBuyers targets buyers with no activity in the last quarter.
	SegmentDormantBuyers SegmentKey = "dormant_buyers"
	// SegmentTrialExpiring targets accounts whose trial ends within seven days.
	SegmentTrialExpiring SegmentKey = "trial_expiring"
	// SegmentNewSuppliers targets suppliers registered within the last month.
	SegmentNewSuppliers SegmentKey = "new_suppliers"
)

// SegmentDescriptor selects an audience. Filter is a JMESPath expression
// evaluated against each candidate's attribute map; a truthy result includes
// the candidate. ExpectedConversionRate feeds the launch result's conversion
// estimate and is advisory only.
type SegmentDescriptor struct {
	Key                    SegmentKey `json:"key"`
	Filter                 string     `json:"filter"`
	ExpectedConversionRate float64    `json:"expected_conversion_rate"`
}

var segmentRegistry = map[SegmentKey]SegmentDescriptor{
	SegmentUnclaimedListings: {
		Key:                    SegmentUnclaimedListings,
		Filter:                 "attributes.listing_claimed == `false`",
		ExpectedConversionRate: 0.04,
	},
	SegmentDormantBuyers: {
		Key:                    SegmentDormantBuyers,
		Filter:                 "attributes.days_since_activity >= `90`",
		ExpectedConversionRate: 0.02,
	},
	SegmentTrialExpiring: {
		Key:                    SegmentTrialExpiring,
		Filter:                 "attributes.trial_days_remaining <= `7`",
		ExpectedConversionRate: 0.11,
	},
	SegmentNewSuppliers: {
		Key:                    SegmentNewSuppliers,
		Filter:                 "attributes.days_since_signup <= `30`",
		ExpectedConversionRate: 0.06,
	},
}

// SegmentByKey resolves a key to its descriptor. Unknown keys are a
// configuration error surfaced synchronously at launch time.
func SegmentByKey(key SegmentKey) (SegmentDescriptor, error) {
	desc, ok := segmentRegistry[key]
	if !ok {
		return SegmentDescriptor{}, fmt.Errorf("unknown segment key: %q", key)
	}
	return desc, nil
}

// SegmentKeys lists the registered segment keys for validation messages and
// the admin CLI.
func SegmentKeys() []SegmentKey {
	keys := make([]SegmentKey, 0, len(segmentRegistry))
	for k := range segmentRegistry {
		keys = append(keys, k)
	}
	return keys
}
