package zmb

// Versions

// These are set by the linker.  Unfortunately, we cannot set constants during
// linking, and Go doesn't have a concept of immutable variables, so to be
// thorough we have to only export them through getters.
var (
	branch   string
	revision string
	version  string

	engineVersion string
)

// Branch returns the compiled-in value of the Git branch.
func Branch() (b string) {
	return branch
}

// Revision returns the compiled-in value of the Git revision.
func Revision() (r string) {
	return revision
}

// Version returns the compiled-in value of the broker version as a string.
func Version() (v string) {
	return version
}

// EngineVersion returns the compiled-in version of the testing engine the
// broker dispatches to.
func EngineVersion() (v string) {
	return engineVersion
}
