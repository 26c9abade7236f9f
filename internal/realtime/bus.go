package realtime

// Bus publishes server-initiated events to rooms. REST handlers receive it
// by injection; the Hub is the only implementation outside tests.
type Bus interface {
	Publish(room, event string, payload any) error
	PublishExcept(room, event string, payload any, exclude *Session) error
}
