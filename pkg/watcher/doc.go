/*
Package watcher delivers parameter change notifications to other processes
over a unix stream socket.

The service side runs a Server. It subscribes to the parameter event broker
and keeps, per connection, the groups the peer registered. Each change is
sent as a NOTIFY_PARAM message to every group whose key prefix matches,
provided the peer (identified by SO_PEERCRED) may watch the parameter.

The client side runs one Manager per process:

	mgr := watcher.NewManager(watcher.ManagerConfig{
		SocketPath: "/run/paramd/watcher.sock",
		Snapshot:   client,
	})
	defer mgr.Stop()

	id, err := mgr.AddWatcher("sys.usb.*", func(name, value string) {
		fmt.Println(name, "=", value)
	})
	...
	mgr.RemoveWatcher("sys.usb.*", id)

Watchers with the same prefix share a group. The first watcher of a prefix
starts the receive loop if needed and sends ADD_WATCHER; the last one
removed sends DEL_WATCHER. A new watcher first receives the current values
of matching parameters from the Snapshot, then joins its group. Changes
that reach the group during the replay are held and delivered afterwards,
skipping any whose commit id the replay already covered.

The receive loop reads with a deadline so Stop is noticed promptly. When the
connection breaks it reconnects with exponential backoff and re-announces
every live group; callbacks never see transport errors.

Messages share one frame format:

	┌──────────┬──────────┬──────────┬──────────┐
	│ type u32 │  id u32  │ size u32 │commit u32│  16-byte header, little-endian
	├──────────┴──────────┴──────────┴──────────┤
	│ u16 name length │ name bytes              │
	│ u16 value length│ value bytes             │
	└───────────────────────────────────────────┘
*/
package watcher
