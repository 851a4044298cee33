package jobqueue

import "github.com/cockroachdb/errors"

// IntentError carries jobs that must still be enqueued although the
// operation that produced them failed.
type IntentError struct {
	Err  error
	Jobs []Job
}

func (e *IntentError) Error() string { return e.Err.Error() }

func (e *IntentError) Unwrap() error { return e.Err }

// WithIntents attaches jobs to err. It returns err unchanged when there are none.
func WithIntents(err error, jobs []Job) error {
	if err == nil || len(jobs) == 0 {
		return err
	}
	return &IntentError{Err: err, Jobs: jobs}
}

// IntentsFrom returns the jobs attached anywhere in the error chain.
func IntentsFrom(err error) []Job {
	var ie *IntentError
	if errors.As(err, &ie) {
		return ie.Jobs
	}
	return nil
}
