// Package domain defines the core business types for the revpipe backbone.
//
// Types in this package are pure value objects with no behavior beyond
// validation and derivation helpers. They are the shared language between
// the sync handler, the event store, the projections, and the API layer.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *mongo.Database, no http.Request, no context.Context in struct fields
//   - JSON/BSON tags are allowed (they're metadata, not behavior)
//   - Pure functions on the types are allowed
//   - Constants and enums belong here
package domain
