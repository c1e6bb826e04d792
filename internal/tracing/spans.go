package tracing

// Span attribute keys.
const (
	AttrPvDID          = "pvd.id"
	AttrPvDSource      = "pvd.source"
	AttrAttributeKey   = "pvd.attribute.key"
	AttrAttributeCount = "pvd.attribute.count"
	AttrChangeKind     = "pvd.change.kind"

	AttrAddress        = "address"
	AttrAddressAdded   = "address.added"
	AttrInterfaceIndex = "address.ifindex"
	AttrEvictedCount   = "pvd.evicted.count"

	AttrHTTPMethod = "http.method"
	AttrHTTPRoute  = "http.route"
	AttrHTTPStatus = "http.status_code"
)

// Span name prefixes.
const (
	SpanPrefixService = "provisioning."
	SpanPrefixRepo    = "repo."
	SpanPrefixHTTP    = "http."
)

// Event names for span events.
const (
	EventPersisted     = "snapshot.persisted"
	EventPersistFailed = "snapshot.persist_failed"
	EventPublished     = "change.published"
	EventEvicted       = "pvd.evicted"
)
