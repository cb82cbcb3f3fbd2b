package macho

import (
	"fmt"
	"os/exec"
	"runtime"
)

// codesignPath is the fixed location of the macOS ad-hoc signing tool.
// The driver never reimplements signature creation; pkg/codesign holds the
// read-only parser NewFile uses for an existing LC_CODE_SIGNATURE, and
// VerifySignature below also shells out rather than using it.
const codesignPath = "/usr/bin/codesign"

// SignAdHoc invokes the system codesign utility with the ad-hoc identity
// ("-") against path, forcing replacement of any existing signature. On
// non-macOS hosts this is a no-op: there is no codesign binary to call,
// and the produced binary is not expected to run there anyway.
func SignAdHoc(path string) error {
	if runtime.GOOS != "darwin" {
		return nil
	}
	cmd := exec.Command(codesignPath, "--sign", "-", "--force", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("codesign --sign failed: %v: %s", err, out)
	}
	return nil
}

// VerifySignature invokes codesign --verify against path. On non-macOS
// hosts this is a no-op success, matching SignAdHoc's platform gating.
func VerifySignature(path string) error {
	if runtime.GOOS != "darwin" {
		return nil
	}
	cmd := exec.Command(codesignPath, "--verify", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("codesign --verify failed: %v: %s", err, out)
	}
	return nil
}
