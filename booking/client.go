// Package booking is the appointment-booking client built on qcache: every
// screen reads through a subscription, writes go through qcache.Mutate.
package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/qcache"
)

var ErrSignedOut = errors.New("booking: not signed in")

// Client binds the booking API to a cache built with Options().
type Client struct {
	cache    *qcache.Cache
	api      API
	notifier qcache.Notifier
	log      qcache.Logger
}

type ClientOptions struct {
	Notifier qcache.Notifier // sign-in/out notices; nil => none
	Logger   qcache.Logger
}

func NewClient(c *qcache.Cache, api API, opts ClientOptions) *Client {
	cl := &Client{cache: c, api: api, notifier: opts.Notifier, log: opts.Logger}
	if cl.notifier == nil {
		cl.notifier = qcache.NopNotifier{}
	}
	if cl.log == nil {
		cl.log = qcache.NopLogger{}
	}
	return cl
}

// CurrentUser returns the signed-in user from the cache.
func (cl *Client) CurrentUser() (User, bool) {
	v, ok := cl.cache.Read(UserKey())
	if !ok {
		return User{}, false
	}
	u, ok := v.(User)
	return u, ok
}

// Appointments subscribes to one month of the calendar and warms the next
// one so paging forward is instant.
func (cl *Client) Appointments(ctx context.Context, m MonthYear) (*qcache.Subscription, error) {
	sub, err := cl.cache.Subscribe(ctx, AppointmentsKey(m), cl.fetchMonth(m))
	if err != nil {
		return nil, err
	}
	next := m.Next(1)
	cl.cache.PrefetchRelated(ctx, AppointmentsKey(m), func(qcache.Key) qcache.Key {
		return AppointmentsKey(next)
	}, cl.fetchMonth(next))
	return sub, nil
}

func (cl *Client) fetchMonth(m MonthYear) qcache.FetchFunc {
	return qcache.Fetcher(func(ctx context.Context, _ qcache.Key) (AppointmentDateMap, error) {
		return cl.api.Appointments(ctx, m.Year, int(m.Month))
	})
}

// UserAppointments subscribes to the signed-in user's appointments.
func (cl *Client) UserAppointments(ctx context.Context) (*qcache.Subscription, error) {
	u, ok := cl.CurrentUser()
	if !ok {
		return nil, ErrSignedOut
	}
	return cl.cache.Subscribe(ctx, UserAppointmentsKey(u.ID), qcache.Fetcher(func(ctx context.Context, _ qcache.Key) ([]Appointment, error) {
		return cl.api.UserAppointments(ctx, u)
	}))
}

// User subscribes to the signed-in user, refreshed from the server with the
// cached credentials. The value is nil once signed out.
func (cl *Client) User(ctx context.Context) (*qcache.Subscription, error) {
	return cl.cache.Subscribe(ctx, UserKey(), func(ctx context.Context, _ qcache.Key) (any, error) {
		u, ok := cl.CurrentUser()
		if !ok {
			return nil, nil
		}
		return cl.api.User(ctx, u)
	})
}

func (cl *Client) Staff(ctx context.Context) (*qcache.Subscription, error) {
	return cl.cache.Subscribe(ctx, StaffKey(), qcache.Fetcher(func(ctx context.Context, _ qcache.Key) ([]Staff, error) {
		return cl.api.Staff(ctx)
	}))
}

func (cl *Client) Treatments(ctx context.Context) (*qcache.Subscription, error) {
	return cl.cache.Subscribe(ctx, TreatmentsKey(), qcache.Fetcher(func(ctx context.Context, _ qcache.Key) ([]Treatment, error) {
		return cl.api.Treatments(ctx)
	}))
}

// SignIn authenticates and stores the user, which also persists the session.
func (cl *Client) SignIn(ctx context.Context, email, password string) (User, error) {
	u, err := cl.api.SignIn(ctx, email, password)
	if err != nil {
		cl.notifier.Notify(qcache.Notification{Kind: qcache.NotifyError, Key: UserKey(), Message: err.Error()})
		return User{}, err
	}
	if err := cl.cache.Write(UserKey(), u); err != nil {
		return User{}, err
	}
	cl.log.Info("signed in", qcache.Fields{"user": u.ID})
	cl.notifier.Notify(qcache.Notification{Kind: qcache.NotifySuccess, Key: UserKey(), Message: "Logged in as " + u.Email})
	return u, nil
}

// SignOut drops every user-scoped entry and the persisted session.
func (cl *Client) SignOut() {
	n := cl.cache.SignOut(SessionPrefixes()...)
	cl.log.Info("signed out", qcache.Fields{"purged": n})
	cl.notifier.Notify(qcache.Notification{Kind: qcache.NotifySuccess, Message: "Logged out!"})
}

// ReserveAppointment books appt for the signed-in user. The month's calendar
// shows the reservation immediately and is rolled back if the server refuses.
func (cl *Client) ReserveAppointment(ctx context.Context, appt Appointment) error {
	u, ok := cl.CurrentUser()
	if !ok {
		return ErrSignedOut
	}
	_, err := qcache.Mutate(ctx, cl.cache, qcache.Mutation[Appointment, struct{}]{
		Name: "reserve_appointment",
		Do: func(ctx context.Context, a Appointment) (struct{}, error) {
			return struct{}{}, cl.api.SetAppointmentUser(ctx, a, u.ID)
		},
		Affects: func(a Appointment) []qcache.Key {
			return []qcache.Key{AppointmentsKey(MonthYearOf(a.DateTime))}
		},
		Optimistic: func(_ qcache.Key, prev any, hasPrev bool, a Appointment) (any, bool) {
			return withUser(prev, hasPrev, a, u.ID)
		},
		Invalidates: func(Appointment) []qcache.Key {
			return []qcache.Key{qcache.K(ClassAppointments)}
		},
		SuccessMessage: func(Appointment, struct{}) string { return "You have reserved the appointment!" },
	}, appt)
	return err
}

// CancelAppointment releases appt. There is no optimistic update: the
// calendar refreshes once the server confirms.
func (cl *Client) CancelAppointment(ctx context.Context, appt Appointment) error {
	_, err := qcache.Mutate(ctx, cl.cache, qcache.Mutation[Appointment, struct{}]{
		Name: "cancel_appointment",
		Do: func(ctx context.Context, a Appointment) (struct{}, error) {
			return struct{}{}, cl.api.RemoveAppointmentUser(ctx, a)
		},
		Affects: func(Appointment) []qcache.Key {
			return []qcache.Key{qcache.K(ClassAppointments)}
		},
		SuccessMessage: func(Appointment, struct{}) string { return "You have canceled the appointment!" },
	}, appt)
	return err
}

// PatchUser updates the signed-in user's profile optimistically; the server's
// copy replaces it on success, the previous one is restored on failure.
func (cl *Client) PatchUser(ctx context.Context, updated User) (User, error) {
	original, ok := cl.CurrentUser()
	if !ok {
		return User{}, ErrSignedOut
	}
	if updated.ID != original.ID {
		return User{}, fmt.Errorf("booking: patch of user %d while signed in as %d", updated.ID, original.ID)
	}
	return qcache.Mutate(ctx, cl.cache, qcache.Mutation[User, User]{
		Name: "patch_user",
		Do: func(ctx context.Context, in User) (User, error) {
			return cl.api.PatchUser(ctx, original, in)
		},
		Affects: func(User) []qcache.Key { return []qcache.Key{UserKey()} },
		Optimistic: func(_ qcache.Key, _ any, _ bool, in User) (any, bool) {
			return in, true
		},
		Apply: func(_ qcache.Key, out User, _ User) (any, bool) {
			return out, true
		},
		SuccessMessage: func(User, User) string { return "User updated!" },
	}, updated)
}

// withUser marks a in a cached month as reserved by userID.
func withUser(prev any, hasPrev bool, a Appointment, userID int) (any, bool) {
	m, ok := prev.(AppointmentDateMap)
	if !hasPrev || !ok {
		return nil, false
	}
	next := m.Clone()
	day := a.DateTime.Day()
	for i := range next[day] {
		if next[day][i].ID == a.ID {
			next[day][i].UserID = userID
			return next, true
		}
	}
	return nil, false
}
