// The MIT License
//
// Copyright (c) 2020 Temporal Technologies Inc.  All rights reserved.
//
// Copyright (c) 2020 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package backoff

import (
	"math/rand"
	"time"
)

// done is returned by Retrier.NextBackOff to signal that no further
// attempt should be made.
const done time.Duration = -1

// Clock abstracts time so retry tests do not sleep for real. Production
// code uses SystemClock; the workflow runtime instead drives retry
// timing off replayed TimerFired events, never off this clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the production Clock.
var SystemClock Clock = systemClock{}

// RetryPolicy mirrors §3's RetryPolicy data model: initial
// interval, exponential backoff capped at a max interval, and a bound
// on either elapsed time or attempt count.
type RetryPolicy struct {
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaximumInterval    time.Duration
	ExpirationInterval time.Duration
	MaximumAttempts    int32

	// Jitter adds +/-Jitter*interval randomization to each computed
	// interval so that many retriers backing off on the same schedule
	// don't thunder in lockstep. 0 disables jitter.
	Jitter float64
}

// Retrier computes successive backoff intervals for one retrying
// operation. It is not safe for concurrent use; callers retrying
// concurrently should create one Retrier per operation.
type Retrier struct {
	policy    RetryPolicy
	clock     Clock
	startTime time.Time
	attempt   int32
	rng       *rand.Rand
}

// NewRetrier creates a Retrier that starts counting from now.
func NewRetrier(policy RetryPolicy, clock Clock) *Retrier {
	if policy.BackoffCoefficient < 1 {
		policy.BackoffCoefficient = 2.0
	}
	if policy.MaximumInterval == 0 {
		policy.MaximumInterval = policy.InitialInterval * 100
	}
	return &Retrier{
		policy:    policy,
		clock:     clock,
		startTime: clock.Now(),
		rng:       rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
}

// Reset zeroes the attempt counter and restarts the elapsed-time clock,
// used after a successful call by ConcurrentRetrier.
func (r *Retrier) Reset() {
	r.attempt = 0
	r.startTime = r.clock.Now()
}

// NextBackOff returns the interval to wait before the next attempt, or
// `done` if the policy's attempt or expiration bound has been reached.
func (r *Retrier) NextBackOff() time.Duration {
	r.attempt++

	if r.policy.MaximumAttempts > 0 && r.attempt > r.policy.MaximumAttempts {
		return done
	}
	if r.policy.ExpirationInterval > 0 && r.clock.Now().Sub(r.startTime) > r.policy.ExpirationInterval {
		return done
	}

	interval := float64(r.policy.InitialInterval)
	for i := int32(1); i < r.attempt; i++ {
		interval *= r.policy.BackoffCoefficient
		if interval > float64(r.policy.MaximumInterval) {
			interval = float64(r.policy.MaximumInterval)
			break
		}
	}

	if r.policy.Jitter > 0 {
		delta := interval * r.policy.Jitter
		interval = interval - delta + r.rng.Float64()*2*delta
	}

	return time.Duration(interval)
}

// Attempt returns the 1-based attempt number of the most recent
// NextBackOff call.
func (r *Retrier) Attempt() int32 {
	return r.attempt
}
