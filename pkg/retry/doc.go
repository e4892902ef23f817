// Package retry provides backoff strategies and a retry loop for transient
// failures, such as a session that fails to open or a feed that shows a
// rate-limit page.
//
//	cfg := &retry.Config{
//		MaxAttempts: 3,
//		Backoff: &retry.ExponentialBackoff{
//			BaseDelay:    time.Second,
//			MaxDelay:     time.Minute,
//			Multiplier:   2.0,
//			JitterFactor: 0.1,
//		},
//	}
//	err := retry.Do(ctx, openSession, cfg)
//
// Only errors typed as transient by pkg/errors are retried by default.
package retry
