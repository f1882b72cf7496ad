package device

import (
	"fmt"
	"os"
	"runtime"
)

// devicePath is a variable so tests can point the node check at a temp dir.
var devicePath = func(index int) string {
	return fmt.Sprintf("/dev/video%d", index)
}

// checkDeviceNode separates "no camera" from "camera present but not ours"
// before handing the index to the capture backend. Only Linux exposes video
// devices as nodes; elsewhere the check is skipped.
func checkDeviceNode(index int) error {
	if runtime.GOOS != "linux" {
		return nil
	}
	path := devicePath(index)
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	switch {
	case err == nil:
		f.Close()
		return nil
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %s does not exist", ErrDeviceUnavailable, path)
	case os.IsPermission(err):
		return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, path, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, path, err)
	}
}
