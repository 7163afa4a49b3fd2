package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keystone-supply/catalog-etl/internal/model"
)

func validSystem() string {
	return `{
		"system_id": "SYS_001",
		"system_attributes": {"system_type": "AC", "tonnage": 2.5, "capacity_btu": 30000, "total_price": 3842.50},
		"components": [
			{"component_type": "ODU", "model_number": "GSXH503010", "price": 1842.50},
			{"component_type": "Coil", "model_number": "CAPTA3026", "price": 512.00}
		],
		"metadata": {"source_sheet": "AC Systems", "data_quality": "high"}
	}`
}

func TestDocumentValid(t *testing.T) {
	res := Document([]byte(`{"systems": [` + validSystem() + `]}`))

	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)

	assert.Equal(t, 1, res.Stats.TotalSystems)
	assert.Equal(t, 2, res.Stats.TotalComponents)
	assert.Equal(t, 2.0, res.Stats.AvgComponentsPerSystem)
	assert.Equal(t, 1, res.Stats.ComponentTypes["ODU"])
	assert.Equal(t, 1, res.Stats.ComponentTypes["Coil"])
	assert.Equal(t, 1, res.Stats.SystemTypes["AC"])
	assert.Equal(t, 1, res.Stats.DataQuality["high"])
}

func TestDocumentRootShape(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"not json", `not json`, "root is not valid JSON"},
		{"array root", `[]`, "root must be an object"},
		{"missing systems", `{"results": []}`, "missing 'systems' key at root level"},
		{"systems not array", `{"systems": {}}`, "'systems' must be an array"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Document([]byte(tt.in))
			assert.False(t, res.Valid)
			require.Len(t, res.Errors, 1)
			assert.Equal(t, tt.want, res.Errors[0])
		})
	}
}

func TestDocumentMissingSystemID(t *testing.T) {
	res := Document([]byte(`{"systems": [{
		"components": [{"component_type": "ODU", "model_number": "ABC123"}],
		"metadata": {"source_sheet": "X"}
	}]}`))

	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "system_id")
}

func TestDocumentZeroComponents(t *testing.T) {
	res := Document([]byte(`{"systems": [{
		"system_id": "SYS_001",
		"components": [],
		"metadata": {"source_sheet": "X"}
	}]}`))

	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "at least one component")
}

func TestDocumentNullAttributesIsClean(t *testing.T) {
	res := Document([]byte(`{"systems": [{
		"system_id": "SYS_001",
		"system_attributes": null,
		"components": [{"component_type": "ODU", "model_number": "ABC123"}]
	}]}`))

	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "metadata")
}

func TestDocumentPlaceholderModelNumbers(t *testing.T) {
	for _, bad := range []string{`""`, `"N/A"`, `"nan"`, `null`} {
		res := Document([]byte(`{"systems": [{
			"system_id": "SYS_001",
			"components": [{"component_type": "ODU", "model_number": ` + bad + `}],
			"metadata": {"source_sheet": "X"}
		}]}`))

		assert.False(t, res.Valid, "model_number %s should be an error", bad)
		require.NotEmpty(t, res.Errors)
		assert.Contains(t, res.Errors[0], "model_number")
	}
}

func TestDocumentTypeMismatches(t *testing.T) {
	res := Document([]byte(`{"systems": [{
		"system_id": "SYS_001",
		"system_attributes": {"tonnage": "2.5 tons", "capacity_btu": 30000.5, "total_price": "call"},
		"components": [{"component_type": "ODU", "model_number": "ABC123", "price": "1842"}],
		"metadata": {"source_sheet": "X"}
	}]}`))

	assert.False(t, res.Valid)
	assert.Len(t, res.Errors, 4)
}

func TestDocumentWholeFloatCapacityRejected(t *testing.T) {
	res := Document([]byte(`{"systems": [{
		"system_id": "SYS_001",
		"system_attributes": {"capacity_btu": 30000.0},
		"components": [{"component_type": "ODU", "model_number": "ABC123"}],
		"metadata": {"source_sheet": "X"}
	}]}`))

	assert.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "capacity_btu")
}

func TestDocumentEnumWarnings(t *testing.T) {
	res := Document([]byte(`{"systems": [{
		"system_id": "SYS_001",
		"system_attributes": {"system_type": "Split"},
		"components": [{"component_type": "Condenser", "model_number": "ABC123"}],
		"metadata": {"source_sheet": "X"}
	}]}`))

	// Unknown enum values degrade to warnings, never errors.
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "component_type")
	assert.Contains(t, res.Warnings[1], "system_type")
}

func TestDocumentNegativePriceWarns(t *testing.T) {
	res := Document([]byte(`{"systems": [{
		"system_id": "SYS_001",
		"components": [{"component_type": "ODU", "model_number": "ABC123", "price": -5.00}],
		"metadata": {"source_sheet": "X"}
	}]}`))

	assert.True(t, res.Valid)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "negative price")
}

func TestSilverTypedRoundTrip(t *testing.T) {
	doc := &model.Silver{Systems: []model.System{
		{
			SystemID: "SYS_001",
			Attributes: &model.Attributes{
				SystemType:  model.StrPtr(model.SystemTypeHP),
				Tonnage:     model.F64Ptr(3.0),
				CapacityBTU: model.I64Ptr(36000),
			},
			Components: []model.Component{
				{ComponentType: model.ComponentODU, ModelNumber: "GSZH503610", Price: model.F64Ptr(2100)},
				{ComponentType: model.ComponentAirHandler, ModelNumber: "AMST36CU1400"},
			},
			Metadata: &model.Metadata{SourceSheet: "HP Systems", DataQuality: "high"},
		},
	}}

	res := Silver(doc)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, res.Stats.SystemTypes["HP"])
}

func TestStatsDefaultsQualityMedium(t *testing.T) {
	res := Document([]byte(`{"systems": [{
		"system_id": "SYS_001",
		"components": [{"component_type": "ODU", "model_number": "ABC123"}],
		"metadata": {"source_sheet": "X"}
	}]}`))

	assert.Equal(t, 1, res.Stats.DataQuality["medium"])
}
