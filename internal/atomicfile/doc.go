// Package atomicfile replaces files so that readers observe either the old
// content or the new content, never a mix of both.
//
// A File is a temporary sibling of the destination. Writes go to the
// temporary file; Commit flushes it and renames it over the destination,
// Discard removes it. Exactly one of the two ends the File's life, and every
// later call fails with ErrInvalidState.
//
// Rename is only atomic within one filesystem, so Commit refuses to run when
// the temporary file and the destination live on different devices and
// returns a FilesystemIntegrityError instead of falling back to a copy.
//
// Callers release a File with a deferred Close, which discards it unless it
// was committed:
//
//	f, err := atomicfile.Open(path)
//	if err != nil {
//		return err
//	}
//	defer f.Close()
//	if _, err := f.Write(data); err != nil {
//		return err
//	}
//	return f.Commit()
//
// Concurrent Files targeting the same destination are not coordinated.
package atomicfile
