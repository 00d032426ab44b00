package nameservice_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ardanlabs/powchain/foundation/nameservice"
)

func Test_Lookup(t *testing.T) {
	dir := t.TempDir()

	key := "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	if err := os.WriteFile(filepath.Join(dir, "kennedy.ecdsa"), []byte(key), 0600); err != nil {
		t.Fatalf("Should be able to write the key file: %s", err)
	}

	ns, err := nameservice.New(dir)
	if err != nil {
		t.Fatalf("Should be able to load the name service: %s", err)
	}

	if name := ns.Lookup("0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4"); name != "kennedy" {
		t.Fatalf("Should resolve the address to the key name, got %q.", name)
	}

	unknown := "0xF01813E4B85e178A83e29B8E7bF26BD830a25f32"
	if name := ns.Lookup(unknown); name != unknown {
		t.Fatalf("Should return the address for unknown accounts, got %q.", name)
	}

	ns, err = nameservice.New(filepath.Join(dir, "missing"))
	if err != nil {
		t.Fatalf("Should accept a missing folder: %s", err)
	}

	if len(ns.Copy()) != 0 {
		t.Fatalf("Should have no names for a missing folder.")
	}
}
