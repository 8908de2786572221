package main

import (
	"errors"
	"fmt"

	"github.com/openmined/onesync/internal/syncjob"
	"github.com/openmined/onesync/internal/syncsource"
)

var errJobNotFound = errors.New("no such job")

// describe turns job errors into messages a user can act on. The original error stays
// reachable through errors.Is.
func describe(err error) error {
	if err == nil {
		return nil
	}

	var jobErr *syncjob.Error
	if !errors.As(err, &jobErr) {
		return err
	}

	var msg string
	switch jobErr.Kind {
	case syncjob.KindNameExists:
		msg = fmt.Sprintf("a job named %q already exists, pick another name", jobErr.Job)
	case syncjob.KindTooManySources:
		msg = fmt.Sprintf("the intermediary folder already relays between %d folders", syncsource.MaxSources)
	case syncjob.KindNotFound:
		msg = fmt.Sprintf("job %q does not exist", jobErr.Job)
	case syncjob.KindStoreUnavailable:
		msg = "a job database could not be opened or created; check the folder exists and is writable"
	case syncjob.KindStoreFailure:
		msg = "a job database operation failed and was rolled back"
	case syncjob.KindInvalid:
		msg = "invalid job settings"
	default:
		return err
	}
	return fmt.Errorf("%s: %w", msg, err)
}
