package floyd

import (
	"io/fs"
	"os"
)

// createDirectoryIfNotExist permits to check if a directory exist
// and create it if not. An error will be return if there is any
func createDirectoryIfNotExist(d string, perm fs.FileMode) error {
	if _, err := os.Stat(d); os.IsNotExist(err) {
		if err := os.MkdirAll(d, perm); err != nil {
			return err
		}
		return nil
	}
	return nil
}
