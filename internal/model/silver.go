package model

// Component type vocabulary for silver output. The transformation engine is
// instructed to emit exactly these values; the validator enforces them.
const (
	ComponentODU        = "ODU"
	ComponentIDU        = "IDU"
	ComponentCoil       = "Coil"
	ComponentFurnace    = "Furnace"
	ComponentAirHandler = "AirHandler"
	ComponentAuxHeat    = "AuxHeat"
	ComponentThermostat = "Thermostat"
	ComponentAccessory  = "Accessory"
	ComponentLineSet    = "LineSet"
	ComponentOther      = "Other"
)

// System type vocabulary.
const (
	SystemTypeAC        = "AC"
	SystemTypeHP        = "HP"
	SystemTypeDuctless  = "Ductless"
	SystemTypeMultiZone = "MultiZone"
	SystemTypePackage   = "Package"
	SystemTypeUnknown   = "Unknown"
)

// ComponentTypes lists all valid component_type values.
var ComponentTypes = []string{
	ComponentODU, ComponentIDU, ComponentCoil, ComponentFurnace,
	ComponentAirHandler, ComponentAuxHeat, ComponentThermostat,
	ComponentAccessory, ComponentLineSet, ComponentOther,
}

// SystemTypes lists all valid system_type values.
var SystemTypes = []string{
	SystemTypeAC, SystemTypeHP, SystemTypeDuctless,
	SystemTypeMultiZone, SystemTypePackage, SystemTypeUnknown,
}

// Attributes holds system-level fields shared by all components. All fields
// are nullable; null means the source did not state the value.
type Attributes struct {
	AHRINumber    *string  `json:"ahri_number"`
	SystemType    *string  `json:"system_type"`
	Tonnage       *float64 `json:"tonnage"`
	SEER2         *float64 `json:"seer2"`
	EER2          *float64 `json:"eer2"`
	HSPF2         *float64 `json:"hspf2"`
	CapacityBTU   *int64   `json:"capacity_btu"`
	Stages        *string  `json:"stages,omitempty"`
	Configuration *string  `json:"configuration,omitempty"`
	TotalPrice    *float64 `json:"total_price"`
}

// Component is one piece of equipment within a system.
type Component struct {
	ComponentType  string         `json:"component_type"`
	ModelNumber    string         `json:"model_number"`
	Brand          *string        `json:"brand,omitempty"`
	Description    *string        `json:"description,omitempty"`
	Quantity       *int64         `json:"quantity,omitempty"`
	Price          *float64       `json:"price,omitempty"`
	Specifications map[string]any `json:"specifications,omitempty"`
}

// Metadata carries provenance and quality notes for a system.
type Metadata struct {
	SourceSheet string   `json:"source_sheet,omitempty"`
	DataQuality string   `json:"data_quality,omitempty"`
	Notes       []string `json:"notes,omitempty"`
}

// System is one matched-equipment combination in the silver artifact.
// Attributes is nil when the engine could not identify any system-level
// ratings (standalone components).
type System struct {
	SystemID   string      `json:"system_id"`
	Attributes *Attributes `json:"system_attributes"`
	Components []Component `json:"components"`
	Metadata   *Metadata   `json:"metadata,omitempty"`
}

// Silver is the stage-2 artifact written after validation and enrichment.
type Silver struct {
	Systems []System `json:"systems"`
}

// ComponentByType returns the first component with the given type, or nil.
func (s *System) ComponentByType(componentType string) *Component {
	for i := range s.Components {
		if s.Components[i].ComponentType == componentType {
			return &s.Components[i]
		}
	}
	return nil
}

// StrPtr returns a pointer to s, for building nullable attribute fields.
func StrPtr(s string) *string { return &s }

// F64Ptr returns a pointer to f.
func F64Ptr(f float64) *float64 { return &f }

// I64Ptr returns a pointer to n.
func I64Ptr(n int64) *int64 { return &n }
