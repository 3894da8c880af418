//go:build windows

package priority

import "golang.org/x/sys/windows"

func raise() error {
	return windows.SetPriorityClass(windows.CurrentProcess(), windows.HIGH_PRIORITY_CLASS)
}
