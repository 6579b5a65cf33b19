package domain

import "context"

// Runner defines the contract for performing the work a job describes.
// Worker implementations decide what the payload means (sleep, shell command in a container, ...).
type Runner interface {
	// Run performs the job. A non-nil error makes the worker FAIL the job so it is redelivered.
	Run(ctx context.Context, job Job) (string, error)
}
