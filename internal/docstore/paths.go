package docstore

import (
	"fmt"
	"strings"
)

// Collection layout used by the portal.
const (
	ProgramSettingsPath = "config/rebateProgram"
)

// UserProfilePath is the user-owned profile, the canonical copy of the
// rebate balance.
func UserProfilePath(userID string) string {
	return fmt.Sprintf("users/%s", userID)
}

// PublicProfilePath is the denormalised copy readable by other users.
func PublicProfilePath(userID string) string {
	return fmt.Sprintf("publicProfiles/%s", userID)
}

func BillPath(userID, billID string) string {
	return fmt.Sprintf("users/%s/bills/%s", userID, billID)
}

// RebateAwardPath keys the award ledger by payment reference.
func RebateAwardPath(paymentRef string) string {
	return fmt.Sprintf("rebateAwards/%s", paymentRef)
}

// ValidID reports whether id can be used as a single path segment.
func ValidID(id string) bool {
	return id != "" && !strings.Contains(id, "/")
}
