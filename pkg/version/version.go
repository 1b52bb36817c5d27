// Package version reports the build version. Release builds override raw with
//
//	-ldflags "-X hardwarestore/pkg/version.raw=1.4.0"
package version

import (
	"github.com/Masterminds/semver"
)

var raw = "0.1.0"

const fallback = "0.0.0-dev"

// Version returns the parsed build version, or a development version when the
// injected string is not valid semver.
func Version() *semver.Version {
	v, err := semver.NewVersion(raw)
	if err != nil {
		return semver.MustParse(fallback)
	}
	return v
}

// String renders Version with a leading "v".
func String() string {
	return "v" + Version().String()
}

// Satisfies reports whether the build version matches a constraint such as ">= 1.0, < 2".
func Satisfies(constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, err
	}
	return c.Check(Version()), nil
}
