/*
Package types defines the vocabulary shared by every paramd package.

It holds the caller credentials and access modes consulted by the security
layer, the parameter name and value rules enforced before anything touches
the workspace, the prefix conventions with special handling, and the error
taxonomy returned by the public API.

# Names

Parameter names are dot-segmented and bounded:

	persist.sys.usb.config     journaled to durable storage on every write
	const.product.model        write-once
	test.permission.read       ordinary parameter

A segment may contain letters, digits and the characters "_-:@". Empty
segments, leading or trailing dots and names longer than NameLenMax are
rejected with ErrInvalidName.

# Prefix patterns

Watchers subscribe with a pattern that is either an exact name or a name
prefix terminated by '*':

	MatchPrefix("test.permission.*", "test.permission.read")  // true
	MatchPrefix("test.permission.*", "test.other.read")       // false
	MatchPrefix("test.permission.read", "test.permission.read") // true

# Errors

All errors returned across package boundaries wrap one of the sentinels in
errors.go, so callers branch with errors.Is:

	if errors.Is(err, types.ErrForbidden) {
		// caller lacks permission
	}
*/
package types
