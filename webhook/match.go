package webhook

import "slices"

/* Matches reports whether an endpoint should receive the event
 * An endpoint matches when it is deliverable, subscribes to the type
 * and every configured filter is satisfied
 */
func (e Endpoint) Matches(ev Event) bool {
	if !e.Deliverable() {
		return false
	}
	if !e.Subscribes(ev.Type) {
		return false
	}
	return e.Filters.Allow(ev.Metadata)
}

/* Allow evaluates the metadata filters
 * A nil or empty filter list places no restriction. A non-empty list
 * requires the metadata field to be present and listed, so an event
 * without the field never passes a configured filter.
 */
func (f *Filters) Allow(m Metadata) bool {
	if f == nil {
		return true
	}
	return allowed(f.ProviderIDs, m.ProviderID) &&
		allowed(f.ChannelIDs, m.ChannelID) &&
		allowed(f.TemplateIDs, m.TemplateID)
}

func allowed(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	if value == "" {
		return false
	}
	return slices.Contains(list, value)
}

// MatchingEndpoints returns the endpoints that should receive the event
func MatchingEndpoints(endpoints []Endpoint, ev Event) []Endpoint {
	matched := make([]Endpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep.Matches(ev) {
			matched = append(matched, ep)
		}
	}
	return matched
}
