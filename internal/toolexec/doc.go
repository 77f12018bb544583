// Package toolexec runs external programs (the KWIVER pipeline runner, DVC,
// debuggers) and reports their outcome as an explicit Result.
//
// A zero exit status yields a Result; anything else yields a *ToolFailure
// carrying the exit code and captured stderr so dependent stages can stop
// instead of consuming a missing or partial output file.
package toolexec
