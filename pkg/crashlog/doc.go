// Package crashlog turns unhandled errors into durable crash reports.
//
// A Handler installs itself as the default UncaughtHandler of a Runtime.
// Panics escaping a guarded goroutine reach it, are rendered with their
// causal chain, written next to a snapshot of host facts and recorded in a
// crash marker that the next process run can query. The process then
// terminates after a grace period, optionally showing a throttled
// notification first.
//
// # Core Components
//
//   - Handler: installs itself, handles unhandled errors, terminates the process
//   - Snapshot: ordered host facts collected from a Host's declared build fields
//   - Writer: writes crash and note reports atomically under a per-version directory
//   - CrashStore: crash marker and notification throttle in a durable KVStore
//   - Runtime: default handler registry with Guard and Go for panicking goroutines
//   - Sink: send hook receiving every written report (stderr, async, multi, noop)
//
// # Quick Start
//
//	store, _ := sqlite.Open(cfg.StoreFile())
//	handler := crashlog.New(crashlog.WithStore(store), crashlog.WithConfig(cfg))
//	if err := handler.Init(crashlog.NewProcessHost("myapp")); err != nil {
//	    return err
//	}
//	if crashed, _ := handler.IsStartedFromCrash(ctx); crashed {
//	    // the previous run died; look in handler.ReportDir()
//	    _ = handler.ClearCrashMarker(ctx)
//	}
//
//	crashlog.Go(ctx, worker) // or: go func() { defer crashlog.Guard(); worker(ctx) }()
//
// # Report Format
//
// Reports are text files named crash-<local time>-<unix millis>.log or
// crashlog-<local time>-<unix millis>.log for notes. See EncodeReport and
// ParseReport for the layout.
//
// # Design Principles
//
//   - The crash path never fails: every step recovers its own panics and errors are logged
//   - Writes are all-or-nothing: a failed report leaves no partial file behind
//   - Sinks and notifiers are best effort and never delay termination beyond the grace period
package crashlog
