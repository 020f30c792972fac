package traffic

import (
	"github.com/arkilian/flowgraph/internal/flow"
	"github.com/arkilian/flowgraph/internal/pipeline"
)

// Define declares the two traffic tables and their flows on pctx.
// inputPrefix defaults to DefaultInputPrefix.
func Define(pctx *pipeline.Context, inputPrefix string) error {
	if inputPrefix == "" {
		inputPrefix = DefaultInputPrefix
	}
	if _, err := pctx.DeclareTable(RawTable, RawSchema); err != nil {
		return err
	}
	if _, err := pctx.DeclareTable(AugmentedTable, AugmentedSchema); err != nil {
		return err
	}
	if _, err := pctx.RegisterFlow(flow.Flow{
		Name:   IngestFlow,
		Target: RawTable,
		Kind:   flow.SourceFlow,
		Source: flow.SourceDescriptor{Prefix: inputPrefix, Pattern: "*", Format: flow.FormatJSON},
	}); err != nil {
		return err
	}
	_, err := pctx.RegisterFlow(flow.Flow{
		Name:      AugmentFlow,
		Target:    AugmentedTable,
		Kind:      flow.DerivedFlow,
		Upstream:  RawTable,
		Transform: Augment,
	})
	return err
}
