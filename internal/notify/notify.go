// Package notify delivers terminal-run notifications to operators.
package notify

import (
	"errors"
	"fmt"

	"github.com/mkessler/dossier/internal/models"
)

// Notifier receives terminal run states. Implementations must be safe
// for concurrent use; the worker calls them from its loop goroutine and
// from synchronous ticks.
type Notifier interface {
	RunFinished(run *models.Run) error
}

// Multi fans a notification out to several notifiers, collecting errors
// rather than stopping at the first.
type Multi []Notifier

// RunFinished implements Notifier.
func (m Multi) RunFinished(run *models.Run) error {
	var errs []error
	for _, n := range m {
		if err := n.RunFinished(run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// headline renders the one-line message shared by all channels.
func headline(run *models.Run) string {
	verb := "succeeded"
	if run.Status == models.RunFailed {
		verb = "failed"
	}
	msg := fmt.Sprintf("Analysis of %s/%s@%.12s %s", run.Owner, run.Repo, run.CommitSHA, verb)
	if run.Status == models.RunFailed && run.Error != "" {
		msg += ": " + run.Error
	}
	return msg
}
