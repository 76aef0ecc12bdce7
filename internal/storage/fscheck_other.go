//go:build !darwin && !linux

package storage

// Windows keeps Studio's files on local disks in practice; mapped drives are
// not detected.
func detectFilesystemType(string) (string, error) {
	return "", errDetectUnsupported
}
