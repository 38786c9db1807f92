/*
Package storage persists parameters outside the shared workspace.

Two formats are handled here:

  - The persist journal. Parameters named persist.* are written to a BoltDB
    file (bucket "persist") as JSON records {value, updated_at} so they
    survive restarts. BoltStore implements ParamStore; a record that fails to
    decode is skipped with a warning and never aborts a load.

  - Default parameter files. Plain text files of name=value lines with '#'
    comments, read at startup with LoadFile, LoadDir (every *.para file in
    lexical order) or LoadSource. Missing files and directories load
    nothing; malformed lines are logged and skipped.

Whether a later source may replace values from an earlier one is decided by
the caller through types.LoadMode.
*/
package storage
