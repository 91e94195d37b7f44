package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for ingest and retrieval spans and metrics.
var (
	AttrDocumentID     = attribute.Key("document.id")
	AttrDocumentSource = attribute.Key("document.source")
	AttrDocumentPages  = attribute.Key("document.pages")

	AttrParentCount = attribute.Key("chunks.parents")
	AttrChildCount  = attribute.Key("chunks.children")

	AttrQueryVariants   = attribute.Key("retrieval.variants")
	AttrTopKChildren    = attribute.Key("retrieval.top_k_children")
	AttrTopKParents     = attribute.Key("retrieval.top_k_parents")
	AttrParentsReturned = attribute.Key("retrieval.parents_returned")

	AttrEmbedModel     = attribute.Key("embedding.model")
	AttrEmbedTextCount = attribute.Key("embedding.text_count")
)
