package strand

import (
	"path/filepath"
	"testing"

	"github.com/strandjs/strand/internal/core"
)

func TestStaticPermissionsPaths(t *testing.T) {
	dir := t.TempDir()
	p := &StaticPermissions{Read: []string{dir}}

	if err := p.Check(core.CapRead, filepath.Join(dir, "sub", "f.txt")); err != nil {
		t.Fatalf("read inside grant: %v", err)
	}
	if err := p.Check(core.CapRead, dir); err != nil {
		t.Fatalf("read the grant root itself: %v", err)
	}
	if err := p.Check(core.CapRead, "/etc/passwd"); err == nil {
		t.Fatal("read outside grant should fail")
	}
	// A sibling sharing the grant as a string prefix is not covered.
	if err := p.Check(core.CapRead, dir+"-sibling/f"); err == nil {
		t.Fatal("prefix sibling should fail")
	}
	if err := p.Check(core.CapWrite, filepath.Join(dir, "f")); err == nil {
		t.Fatal("write with read-only grant should fail")
	}
}

func TestStaticPermissionsHosts(t *testing.T) {
	p := &StaticPermissions{Net: []string{"example.com", ".internal"}}

	for _, allowed := range []string{"example.com", "example.com:443", "svc.internal", "a.b.internal", "internal"} {
		if err := p.Check(core.CapNet, allowed); err != nil {
			t.Fatalf("%s: %v", allowed, err)
		}
	}
	for _, denied := range []string{"evil.com", "notexample.com", "example.com.evil.com"} {
		if err := p.Check(core.CapNet, denied); err == nil {
			t.Fatalf("%s should be denied", denied)
		}
	}
}

func TestStaticPermissionsFlags(t *testing.T) {
	p := &StaticPermissions{Env: true}
	if err := p.Check(core.CapEnv, "HOME"); err != nil {
		t.Fatalf("env: %v", err)
	}
	if err := p.Check(core.CapRun, "ls"); err == nil {
		t.Fatal("run should be denied")
	}
}

func TestPermissionErrorsAreTyped(t *testing.T) {
	err := DenyAll{}.Check(core.CapNet, "example.com")
	oe := core.AsOpError(err)
	if oe == nil || oe.Kind != core.ErrPermissionDenied {
		t.Fatalf("deny error: %v", err)
	}
	if oe.Kind.Recoverable() != true {
		t.Fatal("permission denials are catchable")
	}
}
