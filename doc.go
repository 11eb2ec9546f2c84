// Package reservd exposes the Go APIs of the reservation engine: a
// coordinator that hands out numbered units of finite-capacity items under
// concurrent contention without ever over-allocating. All shared state
// lives in a pluggable ledger store and is mutated exclusively through
// versioned compare-and-swap commits, so any number of engine instances in
// any number of processes can safely share one store.
//
//	eng, err := reservd.New(reservd.Config{Store: "sqlite:///var/lib/reservd/ledger.db"})
//	if err != nil { log.Fatal(err) }
//	defer eng.Close()
//
//	err = eng.CreateItem(ctx, core.CreateItemCommand{ItemID: "flight-42", Capacity: 180})
//	res, err := eng.Reserve(ctx, core.ReserveCommand{
//	    RequestID: "order-9f31",
//	    ItemID:    "flight-42",
//	    Quantity:  2,
//	})
//
// Reserve is idempotent per request ID: resending the same RequestID after
// a timeout returns the recorded outcome of the first execution instead of
// allocating twice. Conflicting commits are retried with jittered
// exponential backoff up to a bounded budget; exhaustion surfaces as a
// deadline_exceeded failure rather than retrying forever.
//
// Store URLs select the backend: mem:// (tests, single process),
// disk://path (flock plus atomic rename), sqlite://path (modernc.org/sqlite)
// and s3://bucket/prefix (conditional writes via ETag match).
package reservd
