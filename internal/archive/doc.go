// Package archive pushes refined files into a DVC-tracked dataset folder.
//
// Every mutation follows the same cycle: `dvc unprotect` the tracked target,
// replace it, then `dvc --cd <folder> add` it again. Cycles are serialized
// within the process by a mutex and across processes by a flock on the
// archive root. A disabled Archive turns every call into a no-op.
package archive
