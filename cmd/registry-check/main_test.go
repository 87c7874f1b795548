package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"worktally/internal/core"
	"worktally/pkg/domain"
)

func TestCLIListsBuiltins(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := cli(nil, &out, &errOut); code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	for _, d := range knownDrivers {
		if !strings.Contains(out.String(), string(d)) {
			t.Fatalf("missing %s in %q", d, out.String())
		}
	}
}

func TestCLIOpensEveryComponent(t *testing.T) {
	t.Setenv("WORKTALLY_STORAGE_DSN", "")
	var out, errOut bytes.Buffer
	if code := cli([]string{"-open"}, &out, &errOut); code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "postgres   skipped") {
		t.Fatalf("postgres should be skipped without a dsn: %q", out.String())
	}
	for _, d := range []string{"memory", "xml", "sqlite", "badger"} {
		if !strings.Contains(out.String(), d) {
			t.Fatalf("%s not reported: %q", d, out.String())
		}
	}
}

func TestCLIRejectsBadFlags(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := cli([]string{"-nope"}, &out, &errOut); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if code := cli([]string{"-open", "-dir", "../outside"}, &out, &errOut); code != 1 {
		t.Fatalf("expected traversal to fail, got %d", code)
	}
}

func TestUnknownComponentFails(t *testing.T) {
	orig := newComponents
	t.Cleanup(func() { newComponents = orig })
	newComponents = func() (*core.Components, error) {
		c := core.NewComponents()
		_ = c.Register(core.NewComponent("tape", func(context.Context, core.BackendConfig) (domain.Backend, error) {
			return nil, errors.New("unreachable")
		}))
		return c, nil
	}
	var out, errOut bytes.Buffer
	if code := cli(nil, &out, &errOut); code != 1 {
		t.Fatalf("expected failure, got %d", code)
	}
	if !strings.Contains(errOut.String(), "tape: not a known storage driver") ||
		!strings.Contains(errOut.String(), "memory: driver has no component") {
		t.Fatalf("unexpected report %q", errOut.String())
	}
}

func TestMainUsesExitFunc(t *testing.T) {
	origExit, origArgs := exitFunc, os.Args
	t.Cleanup(func() { exitFunc, os.Args = origExit, origArgs })
	var got = -1
	exitFunc = func(code int) { got = code }
	os.Args = []string{"registry-check"}
	main()
	if got != 0 {
		t.Fatalf("exit code %d", got)
	}
}

func TestValidatePath(t *testing.T) {
	for _, bad := range []string{"", "/abs", "..", "../x"} {
		if _, err := validatePath(bad); err == nil {
			t.Fatalf("%q should be rejected", bad)
		}
	}
	if p, err := validatePath("a/../b"); err != nil || p != "b" {
		t.Fatalf("got %q %v", p, err)
	}
}
