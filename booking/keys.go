package booking

import (
	"fmt"

	"github.com/unkn0wn-root/qcache"
)

// Resource classes.
const (
	ClassAppointments = "appointments"
	ClassUser         = "user"
	ClassStaff        = "staff"
	ClassTreatments   = "treatments"
)

// AppointmentsKey is ["appointments", "2024", "03"]: year and month are
// zero-padded strings as the server's URL uses them.
func AppointmentsKey(m MonthYear) qcache.Key {
	return qcache.K(ClassAppointments, fmt.Sprintf("%04d", m.Year), fmt.Sprintf("%02d", int(m.Month)))
}

// UserAppointmentsKey lives under ["appointments"] so invalidating all
// appointments also refreshes the user's list.
func UserAppointmentsKey(userID int) qcache.Key {
	return qcache.K(ClassAppointments, ClassUser, userID)
}

func UserKey() qcache.Key       { return qcache.K(ClassUser) }
func StaffKey() qcache.Key      { return qcache.K(ClassStaff) }
func TreatmentsKey() qcache.Key { return qcache.K(ClassTreatments) }

// SessionPrefixes are purged on sign-out.
func SessionPrefixes() []qcache.Key {
	return []qcache.Key{qcache.K(ClassAppointments), qcache.K(ClassUser)}
}
