/*
Package param implements the parameter query and mutate API on top of a
workspace.

A Service owns the writable workspace. Each write is validated, checked
for write permission, committed to the workspace, journaled when the name
starts with persist. and published on the event broker:

	svc, err := param.NewService(param.Config{
		Workspace:   ws,
		Permissions: dispatcher,
		Labels:      labelChecker,
		Store:       journal,
	})
	commit, err := svc.SetParameter(cred, "sys.usb.config", "adb")

Names starting with const. can be written once; later writes fail with
types.ErrReadOnly. At startup the service loads default parameter files
with LoadDefaults and then restores the journal with LoadPersisted.

Reads never take a lock. Other processes open the same workspace file with
OpenReader and read through their own permission checks. A caller that
polls a value keeps the handle from FindParameter and compares
GetCommitID results instead of rereading the value.

GetInt, GetUint and GetBool parse values with a default for absent or
malformed parameters.
*/
package param
