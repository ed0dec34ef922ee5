package booking

import (
	"time"

	"github.com/unkn0wn-root/qcache"
)

// DefaultPolicy suits data that rarely changes (staff, treatments, user):
// reused for 10 minutes, kept 15, no refetch on mount or environment events.
func DefaultPolicy() qcache.Policy {
	return qcache.Policy{
		StaleAfter: 10 * time.Minute,
		RetainFor:  15 * time.Minute,
	}
}

// AppointmentsPolicy keeps the calendar live: other users book concurrently.
func AppointmentsPolicy() qcache.Policy {
	return qcache.Policy{
		StaleAfter:         0,
		RetainFor:          500 * time.Second,
		PollInterval:       time.Minute,
		RefetchOnMount:     true,
		RefetchOnReconnect: true,
		RefetchOnFocus:     true,
	}
}

// Options returns cache options with the booking policies; callers add
// logger, hooks, notifier and session.
func Options() qcache.Options {
	return qcache.Options{
		DefaultPolicy: DefaultPolicy(),
		Policies: map[string]qcache.Policy{
			ClassAppointments: AppointmentsPolicy(),
		},
	}
}
