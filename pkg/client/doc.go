/*
Package client provides a Go client library for the paramd gRPC API.

The client dials the daemon's unix socket and wraps the ParamService methods
with plain Go types. Status errors are converted back to the sentinel errors
of package types, so callers can test them with errors.Is:

	c, err := client.NewClient("/run/paramd/api.sock")
	if err != nil {
		return err
	}
	defer c.Close()

	if _, err := c.Set("persist.sys.locale", "en-US"); err != nil {
		return err
	}
	value, err := c.Get("persist.sys.locale")
	if errors.Is(err, types.ErrNotFound) {
		// not set yet
	}

Client implements watcher.Snapshot through ListParameters, which lets a
watcher manager in another process replay current values over the API.
*/
package client
