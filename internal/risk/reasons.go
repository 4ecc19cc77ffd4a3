package risk

import (
	"fmt"
	"math"

	"github.com/mbd888/guardianshield/internal/features"
)

// Amount deviation above which the reason switches from percent to multiple.
const (
	deviationMultipleFloor = 50
	deviationPercentFloor  = 10
)

// Fixed reason strings.
const (
	ReasonPhoneActivity = "Phone call detected recently - possible social engineering"
	ReasonNewMerchant   = "New merchant you've never used before"
)

// Reasons explains a transaction's risk signals in display order. An empty,
// non-nil slice means nothing stood out.
func Reasons(fs features.Set, tx features.Transaction) []string {
	reasons := []string{}

	if fs.PhoneActivity {
		reasons = append(reasons, ReasonPhoneActivity)
	}

	switch dev := fs.AmountDeviation; {
	case dev > deviationMultipleFloor:
		reasons = append(reasons, fmt.Sprintf("Amount %dx above your 30-day baseline", int(math.Floor(dev))))
	case dev > deviationPercentFloor:
		reasons = append(reasons, fmt.Sprintf("Amount %d%% above your 30-day baseline", int(math.Floor(dev*100))))
	}

	if fs.IsUnusualTime {
		// Hours are shown as-is with a naive meridiem: 1 -> "1:00 AM", 23 -> "23:00 PM".
		meridiem := "AM"
		if tx.Hour >= 12 {
			meridiem = "PM"
		}
		reasons = append(reasons, fmt.Sprintf("Unusual transaction time (%d:00 %s - outside your active hours)", tx.Hour, meridiem))
	}

	if fs.IsNewMerchant {
		reasons = append(reasons, ReasonNewMerchant)
	}

	return reasons
}
