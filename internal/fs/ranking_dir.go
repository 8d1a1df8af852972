// Package fs locates the default data directory of rankingd.
package fs

import (
	"os"
	"os/user"
	"path/filepath"
)

// RankingDir returns the default directory for index files and the manifest:
// .ranking under the home directory of the current user, falling back to the
// working directory.
func RankingDir() (string, error) {
	var dir string
	u, err := user.Current()
	if err == nil {
		dir = u.HomeDir
	} else if home := os.Getenv("HOME"); home != "" {
		dir = home
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = wd
	}
	return filepath.Join(dir, ".ranking"), nil
}
