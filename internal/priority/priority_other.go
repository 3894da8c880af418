//go:build !unix && !windows

package priority

import "errors"

func raise() error {
	return errors.New("not supported on this platform")
}
