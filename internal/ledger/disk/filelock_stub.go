//go:build !unix

package disk

import "os"

// lockFile is a stub on non-Unix platforms; in-process callers are still
// serialized by the store mutex, but cross-process exclusion is not
// provided.
func lockFile(f *os.File) error { return nil }

// unlockFile is the stub counterpart to lockFile.
func unlockFile(f *os.File) error { return nil }
