//go:build !darwin && !linux

package storage

// detectFilesystemType reports "unknown" where there is no statfs; the
// history database is then opened without the network filesystem check.
func detectFilesystemType(string) (string, error) {
	return "unknown", nil
}
