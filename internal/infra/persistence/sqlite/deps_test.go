package sqlite

import (
	"go/build"
	"strings"
	"testing"
)

var allowedImports = map[string]struct{}{
	"worktally/internal/infra/persistence/sqlstore": {},
}

func TestImportsAreSQLStoreOrStdlib(t *testing.T) {
	pkg, err := build.Default.ImportDir(".", 0)
	if err != nil {
		t.Fatalf("import dir: %v", err)
	}
	for _, imp := range pkg.Imports {
		if !strings.HasPrefix(imp, "worktally/") {
			continue
		}
		if _, ok := allowedImports[imp]; ok {
			continue
		}
		t.Fatalf("unexpected dependency: %s", imp)
	}
}
