package booking

import "context"

// API is the booking server. Implementations return *qcache.NetworkError when
// no response arrived and *qcache.ServerError for non-2xx responses, and must
// honor ctx cancellation. Calls taking a User authenticate with its Token.
type API interface {
	Appointments(ctx context.Context, year, month int) (AppointmentDateMap, error)
	UserAppointments(ctx context.Context, u User) ([]Appointment, error)
	Staff(ctx context.Context) ([]Staff, error)
	Treatments(ctx context.Context) ([]Treatment, error)

	User(ctx context.Context, u User) (User, error)
	SignIn(ctx context.Context, email, password string) (User, error)
	PatchUser(ctx context.Context, original, updated User) (User, error)

	// SetAppointmentUser reserves appt for userID.
	SetAppointmentUser(ctx context.Context, appt Appointment, userID int) error
	RemoveAppointmentUser(ctx context.Context, appt Appointment) error
}
