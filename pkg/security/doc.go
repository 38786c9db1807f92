/*
Package security decides who may read, write and watch parameters.

Decisions are made by pluggable Checkers combined by a Dispatcher:

	┌──────────── Dispatcher ────────────┐
	│  every checker must Permit         │
	│                                    │
	│  ┌──────────┐      ┌────────────┐  │
	│  │   DAC    │      │   Label    │  │
	│  │ uid/gid/ │      │ prefix ->  │  │
	│  │ mode     │      │ label ->   │  │
	│  │ table    │      │ backend    │  │
	│  └──────────┘      └────────────┘  │
	└────────────────────────────────────┘

Composition is fail-closed. A checker that is not available is asked to
Init again on each check; if it still cannot load, the access is forbidden.
Only a dispatcher created in recovery mode skips unavailable checkers, and
it logs every skip.

# DAC

DACChecker reads a table of "prefix = owner:group:mode" lines. The entry
with the longest matching prefix applies; names no entry covers use
DefaultDACMode. Mode bits follow file permissions with read=4, write=2 and
watch=1 per owner/group/other triplet. Root is always permitted.

# Labels

LabelChecker maps names to labels with a prefix table obtained from a
Backend. Backends are registered by name and resolved on first use, so the
checker stays unavailable (and forbids) until its backend is registered.
Backends implement writes; reads are only allowed when the backend also
implements ReadChecker, and a read additionally requires that the name's
label can be opened through Granter (or is known, for backends without
it). Names matching no context fall back to DefaultLabel, which is subject
to the same grant.

The policyfile backend loads contexts and rules from YAML, see Policy.
*/
package security
