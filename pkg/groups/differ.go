package groups

import "github.com/dukex/devicegroups/pkg/models"

// ApplyUpdate compares the previous membership with a freshly retrieved one and
// returns the set to store along with the notifications to dispatch: every
// Removed first, then every Added, then a single Updated. The incoming set
// replaces the previous one entirely.
func ApplyUpdate(previous, incoming MembershipSet) (MembershipSet, []models.NotificationEvent) {
	notifications := make([]models.NotificationEvent, 0, previous.Len()+incoming.Len()+1)

	for _, name := range previous.Sorted() {
		if !incoming.Contains(name) {
			notifications = append(notifications, models.Removed(name))
		}
	}

	for _, name := range incoming.Sorted() {
		if !previous.Contains(name) {
			notifications = append(notifications, models.Added(name))
		}
	}

	notifications = append(notifications, models.Updated())

	return incoming, notifications
}
