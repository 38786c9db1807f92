/*
Package events fans parameter changes out to in-process subscribers.

The parameter service publishes an Event after every committed write. The
watcher server and parameter waits subscribe to the Broker, optionally
with a filter so only matching events are queued:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe(
		events.WithName("audit"),
		events.WithFilter(func(ev *events.Event) bool {
			return strings.HasPrefix(ev.Name, "persist.")
		}),
	)
	defer broker.Unsubscribe(sub)
	for ev := range sub {
		fmt.Println(ev.Name, ev.Value, ev.CommitID)
	}

Publish blocks only while the broker queue is full. Delivery to a
subscriber is non-blocking by default: when its buffer is full the event is
dropped for that subscriber and counted in paramd_events_dropped_total, so
slow consumers must re-read current values rather than rely on seeing every
change. A subscriber created WithBlocking is never dropped from; the
broker waits for it instead, so it has to drain its channel promptly and
keep draining until Unsubscribe closes it.
*/
package events
