package utils

import (
	"bytes"
	"errors"
	"strconv"
	"testing"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		name     string
		s        string
		unit     string
		expected int
		err      error
	}{
		{"Valid Gigabytes", "5G", "", 5 << 30, nil},
		{"Valid Megabytes", "10M", "", 10 << 20, nil},
		{"Valid Kilobytes", "20K", "", 20 << 10, nil},
		{"Valid Bytes", "512000000", "", 512000000, nil},
		{"Hex bytes", "0x10000", "", 0x10000, nil},
		{"Valid with unit parameter", "5", "G", 5 << 30, nil},
		{"Invalid empty string", "", "", -1, strconv.ErrSyntax},
		{"Invalid format", "5X", "", -1, strconv.ErrSyntax},
		{"Invalid number", "abc", "", -1, strconv.ErrSyntax},
		{"Case insensitive", "5g", "", 5 << 30, nil},
		{"Large number", "9223372036854775807", "", 9223372036854775807, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSize(tt.s, tt.unit)
			if (err != nil) != (tt.err != nil) {
				t.Errorf("ParseSize() error = %v, wantErr %v", err, tt.err)
				return
			}
			if err != nil && !errors.Is(err, tt.err) {
				t.Errorf("ParseSize() error = %v, wantErr %v", err, tt.err)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseSize() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetParams(t *testing.T) {
	args := []string{"cpus=1", "memory=2G", "flag", "load-addr=0x10000"}
	tests := []struct {
		key  string
		want string
	}{
		{"cpus", "1"},
		{"memory", "2G"},
		{"load-addr", "0x10000"},
		{"flag", ""},
		{"missing", ""},
	}
	for _, tt := range tests {
		if got := GetParams(args, tt.key); got != tt.want {
			t.Errorf("GetParams(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestCompareVersion(t *testing.T) {
	tests := []struct {
		v1, v2 string
		want   int
	}{
		{"4.11.0", "4.11.0", 0},
		{"5.15.0", "4.11.0", 1},
		{"4.9.0", "4.11.0", -1},
		{"4.11", "4.11.0", -1},
		{"6.1.0", "6.1", 1},
	}
	for _, tt := range tests {
		if got := compareVersion(tt.v1, tt.v2); got != tt.want {
			t.Errorf("compareVersion(%q, %q) = %d, want %d", tt.v1, tt.v2, got, tt.want)
		}
	}
}

func TestKernelVersion(t *testing.T) {
	v, err := KernelVersion()
	if err != nil {
		t.Fatalf("KernelVersion() error = %v", err)
	}
	if !kernelRelease.MatchString(v) {
		t.Errorf("KernelVersion() = %q", v)
	}
	if err := CheckKernelVersion("0.0.1"); err != nil {
		t.Errorf("CheckKernelVersion() error = %v", err)
	}
	if err := CheckKernelVersion("999.0.0"); err == nil {
		t.Error("CheckKernelVersion(999.0.0) succeeded")
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, map[string]int{"api_version": 12}); err != nil {
		t.Fatal(err)
	}
	if got, want := buf.String(), "{\n  \"api_version\": 12\n}\n"; got != want {
		t.Errorf("WriteJSON() = %q, want %q", got, want)
	}
}
