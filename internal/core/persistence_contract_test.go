package core

import (
	"go/types"
	"path/filepath"
	"runtime"
	"slices"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestBackendImplementationsConfined ensures only the persistence packages
// provide concrete domain.Backend implementations. A new backend needs an
// explicit entry here.
func TestBackendImplementationsConfined(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedTypes, Tests: true}
	pkgs, err := packages.Load(cfg, "worktally/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	var backend *types.Interface
	for _, p := range pkgs {
		if p.PkgPath != "worktally/pkg/domain" || p.Types == nil {
			continue
		}
		obj := p.Types.Scope().Lookup("Backend")
		if obj == nil {
			t.Fatalf("domain.Backend not found")
		}
		iface, ok := obj.Type().Underlying().(*types.Interface)
		if !ok {
			t.Fatalf("domain.Backend is not an interface")
		}
		backend = iface
	}
	if backend == nil {
		t.Fatalf("failed to resolve Backend interface")
	}
	allowed := map[string]struct{}{
		"worktally/internal/infra/persistence/memory":   {},
		"worktally/internal/infra/persistence/xmlfile":  {},
		"worktally/internal/infra/persistence/sqlstore": {},
		"worktally/internal/infra/persistence/sqlite":   {},
		"worktally/internal/infra/persistence/postgres": {},
		"worktally/internal/infra/persistence/badger":   {},
		"worktally/internal/core":                       {}, // failure-injecting test doubles
	}
	var unexpected []string
	for _, p := range pkgs {
		if p.Types == nil || p.Types.Scope() == nil {
			continue
		}
		for _, name := range p.Types.Scope().Names() {
			named, ok := p.Types.Scope().Lookup(name).Type().(*types.Named)
			if !ok {
				continue
			}
			if _, ok := named.Underlying().(*types.Struct); !ok {
				continue
			}
			if types.Implements(types.NewPointer(named), backend) {
				if _, ok := allowed[p.PkgPath]; !ok {
					unexpected = append(unexpected, p.PkgPath+"."+name)
				}
			}
		}
	}
	if len(unexpected) > 0 {
		slices.Sort(unexpected)
		_, file, line, _ := runtime.Caller(0)
		t.Fatalf("unexpected Backend implementations (extend the allowed list when adding a backend):\nfile=%s:%d\n%s", filepath.Base(file), line, unexpected)
	}
}
