package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

func ParseSize(s, unit string) (int, error) {
	sz := strings.TrimRight(s, "gGmMkK")
	if len(sz) == 0 {
		return -1, fmt.Errorf("%q:can't parse as num[gGmMkK]:%w", s, strconv.ErrSyntax)
	}
	amt, err := strconv.ParseUint(sz, 0, 0)
	if err != nil {
		return -1, err
	}
	if len(s) > len(sz) {
		unit = s[len(sz):]
	}
	switch unit {
	case "G", "g":
		return int(amt) << 30, nil
	case "M", "m":
		return int(amt) << 20, nil
	case "K", "k":
		return int(amt) << 10, nil
	case "":
		return int(amt), nil
	}
	return -1, fmt.Errorf("can not parse %q as num[gGmMkK]:%w", s, strconv.ErrSyntax)
}

func WriteJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// GetParams returns the value of key in a list of key=value strings.
func GetParams(args []string, key string) string {
	for _, l := range args {
		name, value, ok := strings.Cut(l, "=")
		if !ok {
			continue
		}
		if name == key {
			return value
		}
	}
	return ""
}

func compareVersion(v1, v2 string) int {
	v1Parts := strings.Split(v1, ".")
	v2Parts := strings.Split(v2, ".")

	for i := 0; i < len(v1Parts) && i < len(v2Parts); i++ {
		v1Part, _ := strconv.Atoi(v1Parts[i])
		v2Part, _ := strconv.Atoi(v2Parts[i])

		if v1Part < v2Part {
			return -1
		} else if v1Part > v2Part {
			return 1
		}
	}
	if len(v1Parts) < len(v2Parts) {
		return -1
	} else if len(v1Parts) > len(v2Parts) {
		return 1
	}
	return 0
}

var kernelRelease = regexp.MustCompile(`^(\d+\.\d+\.\d+)`)

// KernelVersion is the x.y.z prefix of the running kernel's release.
func KernelVersion() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", fmt.Errorf("failed to get kernel version: %w", err)
	}
	release := string(bytes.TrimRight(uts.Release[:], "\x00"))
	match := kernelRelease.FindStringSubmatch(release)
	if len(match) < 2 {
		return "", fmt.Errorf("failed to parse kernel version: %s", release)
	}
	return match[1], nil
}

func CheckKernelVersion(minVersion string) error {
	current, err := KernelVersion()
	if err != nil {
		return err
	}
	if compareVersion(current, minVersion) < 0 {
		return fmt.Errorf("current kernel version %s is less than %s, please upgrade your kernel", current, minVersion)
	}
	return nil
}
