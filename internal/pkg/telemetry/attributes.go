package telemetry

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys shared by instrumented code.
const (
	AttrQueryKey = attribute.Key("nearby.key")
	AttrCategory = attribute.Key("nearby.category")
	AttrLimit    = attribute.Key("nearby.limit")
	AttrResults  = attribute.Key("nearby.results")
)

// Span names.
const (
	SpanFindNearby = "poi_store.find_nearby"
)
