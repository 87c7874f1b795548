package domain

import (
	"testing"

	"worktally/testutil"
)

// The domain layer is shared by every backend and session, so it stays on
// the standard library.
func TestDomainImportsStandardLibraryOnly(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.NonStandardImport, "domain must import only the standard library")
}
