package core

// version is the release version of the program.
const version = "0.1.0"

// CodeVersion returns the version of this build.
func CodeVersion() string {
	return version
}
