// Command registry-check verifies the storage component registry: every
// built-in component must carry a known driver name, and with -open each one
// must open, load an empty graph and close again.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"worktally/internal/core"
	"worktally/internal/infra/persistence"
)

var (
	knownDrivers = []core.StorageDriver{
		core.StorageMemory,
		core.StorageXML,
		core.StorageSQLite,
		core.StoragePostgres,
		core.StorageBadger,
	}
	exitFunc      = os.Exit
	newComponents = persistence.NewComponents
)

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("registry-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		open bool
		dir  string
		dsn  string
	)
	fs.BoolVar(&open, "open", false, "open every component against a scratch location")
	fs.StringVar(&dir, "dir", "", "scratch directory for -open (default: a fresh temp dir)")
	fs.StringVar(&dsn, "dsn", os.Getenv("WORKTALLY_STORAGE_DSN"), "postgres DSN for -open; postgres is skipped without one")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := run(context.Background(), stdout, open, dir, dsn); err != nil {
		fmt.Fprintf(stderr, "Registry check failed: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "Registry check passed.")
	return 0
}

func run(ctx context.Context, stdout io.Writer, open bool, dir, dsn string) error {
	components, err := newComponents()
	if err != nil {
		return fmt.Errorf("register builtins: %w", err)
	}
	names := components.Names()
	if len(names) == 0 {
		return errors.New("no components registered")
	}
	var errs []error
	for _, name := range names {
		if !slices.Contains(knownDrivers, core.StorageDriver(name)) {
			errs = append(errs, fmt.Errorf("%s: not a known storage driver", name))
			continue
		}
		fmt.Fprintf(stdout, "%-10s registered\n", name)
	}
	for _, want := range knownDrivers {
		if _, ok := components.Lookup(string(want)); !ok {
			errs = append(errs, fmt.Errorf("%s: driver has no component", want))
		}
	}
	if err := errors.Join(errs...); err != nil || !open {
		return err
	}

	scratch, cleanup, err := scratchDir(dir)
	if err != nil {
		return err
	}
	defer cleanup()
	for _, name := range names {
		cfg := core.BackendConfig{Path: filepath.Join(scratch, name), DSN: dsn}
		if core.StorageDriver(name) == core.StoragePostgres && dsn == "" {
			fmt.Fprintf(stdout, "%-10s skipped (no dsn)\n", name)
			continue
		}
		if err := smoke(ctx, components, name, cfg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		fmt.Fprintf(stdout, "%-10s opens\n", name)
	}
	return errors.Join(errs...)
}

// smoke opens the component, loads it and closes it again.
func smoke(ctx context.Context, components *core.Components, name string, cfg core.BackendConfig) error {
	backend, err := components.Open(ctx, name, cfg)
	if err != nil {
		return err
	}
	g, err := backend.Load(ctx)
	if err == nil && !g.Empty() {
		err = fmt.Errorf("scratch location %s is not empty", backend.Location())
	}
	return errors.Join(err, backend.Close())
}

func scratchDir(dir string) (string, func(), error) {
	if dir == "" {
		tmp, err := os.MkdirTemp("", "registry-check-")
		if err != nil {
			return "", nil, err
		}
		return tmp, func() { _ = os.RemoveAll(tmp) }, nil
	}
	clean, err := validatePath(dir)
	if err != nil {
		return "", nil, err
	}
	if err := os.MkdirAll(clean, 0o755); err != nil {
		return "", nil, err
	}
	return clean, func() {}, nil
}

// validatePath keeps a caller-supplied scratch directory inside the working
// tree.
func validatePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(p) {
		return "", fmt.Errorf("absolute paths not allowed: %s", p)
	}
	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal not allowed: %s", p)
	}
	return clean, nil
}
