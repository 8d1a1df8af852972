package file

import "os"

// SyncDir is a no-op on windows; directories cannot be fsynced.
func SyncDir(dirName string) error {
	return nil
}

// RenameFile renames oldpath to newpath, removing newpath first since
// windows refuses to rename over an existing file.
func RenameFile(oldpath, newpath string) error {
	if _, err := os.Stat(newpath); err == nil {
		if err = os.Remove(newpath); err != nil {
			return err
		}
	}
	return os.Rename(oldpath, newpath)
}
