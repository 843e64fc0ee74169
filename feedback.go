package plume

import "fiatjaf.com/nostr"

// Feedback is an "I am missing X" signal produced while processing an
// event. Each value is consumed exactly once by the demand coordinator,
// whose fetch results re-enter the pipeline through the merged intake.
type Feedback interface {
	feedback()
}

// NeedMetadata asks for a kind-0 event for PubKey, optionally hinting at
// relays known to be associated with it.
type NeedMetadata struct {
	PubKey nostr.PubKey
	Relays []string
}

// NeedNote asks for a missing event by id, optionally via a hinted relay.
// An empty Relay means the query is broadcast to all live relays.
type NeedNote struct {
	ID    nostr.ID
	Relay string
}

// NeedPreview asks for a link preview of URL.
type NeedPreview struct {
	URL string
}

func (NeedMetadata) feedback() {}
func (NeedNote) feedback() {}
func (NeedPreview) feedback() {}
