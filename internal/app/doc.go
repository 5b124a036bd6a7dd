// Package app composes the PG Locator services into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, store wiring, lifecycle
//	├── domain/             # Domain models (account, listing, booking, ...)
//	├── services/           # One package per domain service
//	├── storage/            # Store interfaces and their backends
//	│   ├── interfaces.go   # ProfileStore, ListingStore, RoomStore, ...
//	│   ├── kvstore/        # Document stores over any kv.Store
//	│   ├── memory/         # In-memory rooms and amenity catalog
//	│   ├── postgres/       # rooms and amenities tables through sqlx
//	│   └── supabase/       # rooms and amenities through PostgREST
//	├── httpapi/            # REST handlers, routing, admin audit trail
//	├── realtime/           # Room change hub and Supabase Realtime bridge
//	├── scheduler/          # Cron jobs (booking backfill)
//	├── system/             # Service lifecycle manager
//	├── metrics/            # Prometheus collectors
//	└── runtime/            # Builds everything from config and runs it
//
// # Dependency Direction
//
//	cmd/pglocator
//	      │
//	      ▼
//	internal/app/runtime ──► internal/config, internal/kv, internal/identity
//	      │
//	      ▼
//	internal/app (composition) ──► services ──► storage interfaces ──► domain
//
// Services never import httpapi or runtime; consumer interfaces such as
// bookings.RoomKeeper keep the graph acyclic.
//
// # Adding a Domain
//
//  1. Create models in internal/app/domain/<name>/
//  2. Add a store interface to internal/app/storage/interfaces.go
//  3. Implement it in storage/kvstore (and a table backend if needed)
//  4. Create the service in internal/app/services/<name>/
//  5. Wire it in application.go
//  6. Add handlers in internal/app/httpapi/handler_<name>.go
package app
