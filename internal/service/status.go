package service

import (
	"errors"
	"os"
)

// Status returns the plist path and whether it exists.
func Status(label string) (string, bool) {
	plist := LaunchdPath(label)
	if _, err := os.Stat(plist); err == nil {
		return plist, true
	}
	return plist, false
}

// Remove deletes the plist; a missing file is not an error.
func Remove(label string) (string, error) {
	plist := LaunchdPath(label)
	if err := os.Remove(plist); err != nil && !errors.Is(err, os.ErrNotExist) {
		return plist, err
	}
	return plist, nil
}
