// Package framesupplier implements just-in-time observation distribution.
//
// # Architecture
//
// The supplier sits between the observation source and the capture
// sessions:
//
//	source → Supplier inbox → session slots (N) → Gate.Offer
//	(30fps)   overwrite        overwrite
//
// Both levels are single-slot mailboxes guarded by sync.Cond. A slow
// session (for example one whose source runs a text recognizer) never
// slows the source or the other sessions; it only sees fewer, fresher
// observations.
//
// # Usage
//
//	supplier := framesupplier.New()
//	if err := supplier.Start(ctx); err != nil {
//	    return err
//	}
//	defer supplier.Stop()
//
//	go func() {
//	    for obs := range observations {
//	        supplier.Publish(obs)
//	    }
//	}()
//
//	read := supplier.Subscribe("session-1")
//	defer supplier.Unsubscribe("session-1")
//	for {
//	    d, ok := read()
//	    if !ok {
//	        break
//	    }
//	    handle(d.Obs)
//	}
//
// # Statistics
//
// InboxDrops should stay near zero: distribution is a handful of pointer
// writes. Per-session TotalDrops grows whenever the session is slower than
// the source, which is expected and harmless.
package framesupplier
