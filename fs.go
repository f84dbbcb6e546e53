package interceptor

import "os"

// isRegularFile reports whether path names an existing regular file. It is
// used both to decide whether an exec target is analyzable at all (§4.6
// step a) and to validate an analyzer's claimed inputs (§4.4).
func isRegularFile(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular()
}
