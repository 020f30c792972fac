// Package traffic is the bundled web-traffic scenario: a mock CloudWatch log
// generator, a raw table fed from the generated files and an enriched table
// derived from it.
package traffic

import "github.com/arkilian/flowgraph/pkg/types"

// Table and flow names.
const (
	RawTable       = "raw_traffic_logs"
	AugmentedTable = "augmented_traffic_logs"

	IngestFlow  = "ingest_raw_traffic_logs"
	AugmentFlow = "augment_web_traffic_logs"

	// DefaultInputPrefix is where the generator writes and the ingest flow reads.
	DefaultInputPrefix = "web_traffic_logs"
)

// RawSchema is the schema of one log event.
var RawSchema = types.MustParseSchema(
	"id STRING, timestamp BIGINT, " +
		"message STRUCT<ip:STRING, method:STRING, page:STRING, status:INT, " +
		"user_agent:STRING, response_time_ms:INT>")

// AugmentedSchema extends RawSchema with the enrichment columns.
var AugmentedSchema = RawSchema.Extend(
	types.Field{Name: "product_id", Type: types.TypeString, Nullable: true},
	types.Field{Name: "is_error", Type: types.TypeBoolean, Nullable: true},
	types.Field{Name: "is_mobile", Type: types.TypeBoolean, Nullable: true},
	types.Field{Name: "page_type", Type: types.TypeString, Nullable: true},
	types.Field{Name: "payload_size_kb", Type: types.TypeInt, Nullable: true},
)
