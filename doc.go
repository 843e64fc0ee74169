// Package plume is the event-ingestion and enrichment core of a Nostr client.
//
// It consumes the raw stream of signed events arriving out of order from
// multiple relays, classifies them by kind, resolves their cross-references
// (quoted notes, mentioned profiles, embedded links), requests missing data
// on demand, persists canonical state and emits a coherent, UI-ready event
// model. The wire layer (websockets, reconnection, signature verification)
// is fiatjaf.com/nostr's job; the presentation layer is whoever consumes the
// Incoming stream.
//
// The moving parts, bottom up:
//
//   - store: sqlite persistence for events, relay provenance, profile
//     metadata and relay information documents.
//   - demand: deduplicates and rate-limits outgoing requests for missing
//     metadata, notes and link previews.
//   - content: parses note text into placeholder "holes" that are filled
//     asynchronously as referenced entities become available.
//   - download: url-addressed file cache for avatars and banners.
//   - preview: best-effort link preview fetching.
//   - pipeline: the orchestrator tying all of the above together.
//
// This root package holds the shared domain model: Persona, TextNote,
// Repost, the Incoming and Feedback message sums and the Subscription
// algebra used both to declare interest to relays and to classify events
// into lanes.
package plume
