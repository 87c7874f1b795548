package session

import (
	"testing"

	"worktally/testutil"
)

// Sessions see storage only through core; concrete drivers are wired by
// the command layer.
func TestSessionDoesNotDependOnDrivers(t *testing.T) {
	testutil.AssertNoTransitiveDependency(t, ".", testutil.InfraImport, "session must not depend on storage or blob drivers")
}
