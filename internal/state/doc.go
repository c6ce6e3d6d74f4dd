// Package state persists what the installer knows about the local machine:
// the installed package versions, a lock serializing installer runs, and a
// journal of the steps each run has taken.
//
// Every file is written through atomicfile, so a crash leaves either the
// previous or the new content on disk.
package state
