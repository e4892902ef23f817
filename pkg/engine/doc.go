// Package engine runs resumable collection for one subject.
//
// A run moves through explicit states:
//
//	Starting -> Scanning -> Extracting -> Scanning ... -> Draining -> Done
//
// with ChallengeWait entered when the source asks for verification and
// Aborted reachable from any live state. Transition is a pure function
// over (State, Event); the Engine performs the side effects around it.
//
// After every stored batch the engine saves a checkpoint holding the
// session cursor and the number of stored items. A later Run for the same
// subject continues from that checkpoint, and the record store's dedup
// makes re-reading the last page harmless.
//
//	eng := engine.New(driver, st, checkpoints, cfg.Collect,
//	    engine.WithLogger(log),
//	    engine.WithObserver(printer.Step),
//	)
//	res, err := eng.Run(ctx, engine.Request{Subject: "alice", Limit: 500})
package engine
