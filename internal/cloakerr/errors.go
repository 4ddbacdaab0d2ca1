// Package cloakerr defines the sentinel error taxonomy shared by
// cloakgov's adapters, strategies, and lifecycle components.
package cloakerr

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSensorUnavailable means a temperature/power reading could not be
	// taken; callers should treat the value as 0 and keep going.
	ErrSensorUnavailable = errors.New("cloakerr: sensor unavailable")

	// ErrAdapterTransient means an OS adapter call failed in a way that
	// may succeed on a later attempt (e.g. a momentarily busy sysfs node).
	ErrAdapterTransient = errors.New("cloakerr: adapter call failed transiently")

	// ErrAdapterPermanent means an OS adapter call failed in a way that
	// will not succeed later in this process's lifetime (missing kernel
	// feature, permission denied). The executor logs it like any other
	// error; it does not disable the knob for later tasks.
	ErrAdapterPermanent = errors.New("cloakerr: adapter call failed permanently")

	// ErrProcessGone means the target pid no longer exists.
	ErrProcessGone = errors.New("cloakerr: process no longer exists")

	// ErrStrategyUnknown means a cloak request named a strategy the
	// factory does not recognize.
	ErrStrategyUnknown = errors.New("cloakerr: unknown strategy")

	// ErrConfigInvalid means the loaded configuration failed validation.
	ErrConfigInvalid = errors.New("cloakerr: invalid configuration")

	// ErrInitFailure means a component could not be constructed at
	// startup (e.g. the optimizer's model weights are missing or
	// malformed); the supervisor treats this as fatal.
	ErrInitFailure = errors.New("cloakerr: initialization failure")
)

// Retry runs fn up to tries times, sleeping delay*backoff^i between
// attempts, stopping early if ctx is cancelled. It is used sparingly --
// only by the GPU adapter's NVML calls, mirroring the original
// implementation's retry decorator around GPU usage reads. Adapters do
// not retry internally anywhere else.
func Retry(ctx context.Context, tries int, delay time.Duration, backoff float64, fn func() error) error {
	var err error
	wait := delay
	for i := 0; i < tries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == tries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait = time.Duration(float64(wait) * backoff)
	}
	return err
}
