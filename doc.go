// Package courier provides a composable event notification engine for Go.
//
// Courier is a library — not a service. Import it into your application
// to get user-owned webhook subscriptions, a dynamic event type catalog,
// signed HTTP delivery with per-subscription retry policies, and a dead
// letter queue for everything that fails terminally.
//
// Key features:
//   - Event type catalog with JSON Schema validation and severity defaults
//   - Wildcard subscription matching with project, severity, and tag filters
//   - Template-driven payloads with Slack and Discord formatting
//   - HMAC-SHA256 signature on every delivery
//   - Exponential backoff retries with auto-deactivation of failing targets
//   - Composable store pattern with multiple backends (Bun, Mongo, Redis, Memory)
//
// Quick start:
//
//	c, err := courier.New(
//	    courier.WithStore(memoryStore),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := c.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Stop(ctx)
//
//	c.Catalog().RegisterType(ctx, catalog.Definition{
//	    Name:  "cost.alert",
//	    Group: "billing",
//	})
//
//	c.Emit(ctx, "cost.alert", "user_123", event.Payload{
//	    Title:    "Monthly budget at 80%",
//	    Severity: event.SeverityMedium,
//	    Metrics:  map[string]any{"cost": 812.50},
//	})
package courier
