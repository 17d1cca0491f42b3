// Package beacon is an embeddable analytics client: the host application
// hands it events and the pipeline takes care of durable buffering,
// batched delivery with retry, session windows, identity, feature flags
// and crash reports.
//
// Key properties:
//   - Capture calls never block on network I/O and never raise; on a
//     stopped or opted-out client they degrade to logged no-ops.
//   - Events survive restarts in a local queue and are delivered at
//     least once; the collection endpoint deduplicates by event uuid.
//   - Identity, traits, super properties, the flag cache and the session
//     marker persist across restarts.
//
// Minimal use:
//
//	client, err := beacon.New(beacon.Config{APIKey: "phk_..."})
//	if err != nil {
//		return err
//	}
//	if err := client.Start(ctx); err != nil {
//		return err
//	}
//	defer client.Shutdown(context.Background())
//
//	client.Track("checkout_completed", map[string]any{"total": 42})
//
// Hosts integrate their platform lifecycle through OnForeground,
// OnBackground, OnScreenShown and OnTerminate, and route fault handlers
// through CaptureException or a PanicHook.
package beacon
