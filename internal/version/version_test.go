package version

import (
	"strings"
	"testing"
)

func TestString_Dirty(t *testing.T) {
	oldVersion, oldDirty := Version, Dirty
	defer func() { Version, Dirty = oldVersion, oldDirty }()

	Version, Dirty = "1.2.3", "false"
	if got := String(); got != "1.2.3" {
		t.Errorf("String() = %q", got)
	}
	Dirty = "true"
	if got := String(); got != "1.2.3-dirty" {
		t.Errorf("String() = %q", got)
	}
	if got := UserAgent(); got != "wirefeed/1.2.3-dirty" {
		t.Errorf("UserAgent() = %q", got)
	}
}

func TestFull(t *testing.T) {
	full := Full()
	for _, want := range []string{"wirefeed ", "Commit:", "Go version:", "OS/Arch:"} {
		if !strings.Contains(full, want) {
			t.Errorf("Full() missing %q:\n%s", want, full)
		}
	}
	if !Get().Dirty && strings.Contains(full, "Dirty") {
		t.Error("Full() should not mention dirty for a clean build")
	}
}
