package qcache

// NotificationKind classifies user-facing events.
type NotificationKind string

const (
	NotifySuccess  NotificationKind = "success"
	NotifyError    NotificationKind = "error"
	NotifyRollback NotificationKind = "rollback"
)

// Notification is emitted for a collaborator to render (toast, banner, log line).
// The cache makes no assumption about presentation.
type Notification struct {
	Kind       NotificationKind
	Key        Key
	Message    string
	MutationID string // empty for fetch errors
}

// Notifier receives notifications outside of any cache lock.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type NopNotifier struct{}

func (NopNotifier) Notify(Notification) {}
