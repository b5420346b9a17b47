package version

import (
	"regexp"
	"testing"
)

var releasePattern = regexp.MustCompile(`^v\d+\.\d+\.\d+(-[0-9A-Za-z.]+)?$`)

func TestVersion_ReleaseFormat(t *testing.T) {
	if !releasePattern.MatchString(Version) {
		t.Errorf("Version = %q, want vMAJOR.MINOR.PATCH with an optional pre-release suffix", Version)
	}
}

func TestReleasePattern(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"v0.4.2", true},
		{"v1.0.0-rc.1", true},
		{"0.4.2", false},
		{"v0.4", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := releasePattern.MatchString(tt.in); got != tt.want {
				t.Errorf("match(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
