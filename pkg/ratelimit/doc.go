// Package ratelimit paces calls against the remote feed.
//
// The collection engine waits on a Limiter before each scroll so that a long
// run does not hammer the source. PerMinute builds the sliding-window limiter
// used by default; TokenBucket suits bursty callers. All Wait methods honour
// context cancellation so a cancelled run never sits in a pacing sleep.
package ratelimit
