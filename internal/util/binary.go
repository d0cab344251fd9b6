// Package util holds small helpers shared across segmentpipe's packages that
// don't belong to any one domain concern.
package util

import (
	"fmt"
	"os"
	"os/exec"
)

// FindBinary resolves an external tool (ffmpeg, ffprobe) to an executable
// path, checking in order:
//  1. envVar, if set and non-empty
//  2. ./name, for running against a locally built binary during development
//  3. name resolved via PATH
//
// Every candidate is verified to exist, be a regular file, and have an
// executable bit set before it is accepted.
func FindBinary(name, envVar string) (string, error) {
	if envVar != "" {
		if p := os.Getenv(envVar); p != "" && executableFile(p) {
			return p, nil
		}
	}

	if local := "./" + name; executableFile(local) {
		return local, nil
	}

	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}

	return "", fmt.Errorf("binary %s not found", name)
}

func executableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}
