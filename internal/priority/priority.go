// Package priority raises the scheduling priority of the current process so
// the playback callback is less likely to miss its deadline.
//
// Raising priority is best effort: it usually needs elevated privileges, and
// callers are expected to log a failure and carry on.
package priority

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Raise asks the OS to schedule the current process ahead of normal
// processes.
func Raise() error {
	if err := raise(); err != nil {
		return fmt.Errorf("raise process priority: %w", err)
	}
	logrus.WithField("function", "priority.Raise").Info("Process priority raised")
	return nil
}
