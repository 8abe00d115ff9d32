// Package hublink is a resilient client for a home-automation hub's
// realtime websocket API, with durable offline queueing of service calls.
//
// # Features
//
//   - Authenticated websocket transport with automatic reconnect
//     (exponential backoff: 500ms → 1s → 2s → ... → 30s max)
//   - Request/response RPC multiplexed over one socket by integer id
//   - Event subscriptions that survive reconnects
//   - Offline command queue persisted via Relica adapters (MySQL, PostgreSQL, SQLite)
//   - Dead-letter table for commands the hub keeps rejecting
//   - Options Pattern, pluggable Logger, Prometheus metrics
//   - Embedded Migrations for easy database setup
//
// # Quick Start
//
//	db, _ := sql.Open("sqlite3", "hublink.db")
//	if err := hublink.ApplyMigrations(ctx, db, "sqlite3", model.DefaultTablePrefix); err != nil {
//	    log.Fatal(err)
//	}
//	repos := relica.NewRepositories(db, "sqlite3")
//
//	transport, _ := hublink.NewTransport(hublink.WithTransportLogger(logger))
//	client, _ := hublink.NewClient(
//	    hublink.WithConn(transport),
//	    hublink.WithClientLogger(logger),
//	    hublink.WithConfigProvider(hublink.NewSettingsConfigProvider(repos.Settings)),
//	)
//
//	connectivity := hublink.NewManualConnectivity(true)
//	queue, _ := hublink.NewOfflineQueue(
//	    hublink.WithCommandRepository(repos.Commands),
//	    hublink.WithDeadLetterRepository(repos.DeadLetters),
//	    hublink.WithDeliverer(client),
//	    hublink.WithConnectivity(connectivity),
//	    hublink.WithQueueLogger(logger),
//	)
//	facade, _ := hublink.NewQueueingClient(
//	    hublink.WithServiceCaller(client),
//	    hublink.WithQueue(queue),
//	    hublink.WithFacadeConnectivity(connectivity),
//	    hublink.WithFacadeLogger(logger),
//	)
//	stop := facade.Watch(client)
//	defer stop()
//
//	_ = client.Connect(ctx)
//	res, err := facade.CallServiceOrQueue(ctx, model.ServiceCall{
//	    Domain:  "light",
//	    Service: "turn_on",
//	    Target:  map[string]any{"entity_id": "light.kitchen"},
//	})
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│  QueueingClient                     │
//	│  (live call or queue, flush on      │
//	│   reconnect)                        │
//	└──────┬───────────────────┬──────────┘
//	       │                   │
//	┌──────▼──────┐     ┌──────▼──────────┐
//	│   Client    │     │  OfflineQueue   │
//	│ (ids, subs) │◄────┤  (FIFO, DLQ)    │
//	└──────┬──────┘     └──────┬──────────┘
//	       │                   │
//	┌──────▼──────┐     ┌──────▼──────────┐
//	│  Transport  │     │ Relica adapters │
//	│ (websocket) │     │ (SQL store)     │
//	└─────────────┘     └─────────────────┘
//
// # Connection Lifecycle
//
//  1. Connect opens the socket; the hub sends auth_required
//  2. The transport replies once with the token
//  3. auth_ok → Connected; auth_invalid → AUTHENTICATION_ERROR, no retry
//  4. An unexpected close → Disconnected, pending requests fail with
//     DISCONNECTED, and a reconnect is scheduled
//  5. On every Connected the client reissues its subscriptions with
//     their original ids
//
// # Offline Queue
//
// Service calls made while the hub is unreachable are stored and flushed
// oldest first when connectivity returns or the transport reconnects.
// A flush stops at the first offline-like failure (DISCONNECTED,
// TRANSPORT_ERROR, AUTHENTICATION_ERROR) and leaves the rest untouched.
// A command the hub rejects keeps its place with an incremented attempt
// count and is dead-lettered after 5 rejections.
//
// # Database Schema
//
//	hublink_command_queue - queued service calls with attempt state
//	hublink_dead_letter   - commands removed from the queue undelivered
//	hublink_setting       - ambient connection settings
//
// Table prefix can be customized (default: "hublink_").
package hublink
