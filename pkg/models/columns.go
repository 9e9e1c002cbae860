package models

// The eight listing fields the service knows how to check. Each maps to the
// snake_case variable name used inside prompt templates and LLM result
// payloads.
const (
	ColumnRemarks             = "Remarks"
	ColumnPrivateRemarks      = "PrivateRemarks"
	ColumnDirections          = "Directions"
	ColumnShowingInstructions = "ShowingInstructions"
	ColumnConfidentialRemarks = "ConfidentialRemarks"
	ColumnSupplementRemarks   = "SupplementRemarks"
	ColumnConcessions         = "Concessions"
	ColumnSaleFactors         = "SaleFactors"
)

// columnOrder is the canonical ordering used for template rendering and
// response serialization.
var columnOrder = []string{
	ColumnRemarks,
	ColumnPrivateRemarks,
	ColumnDirections,
	ColumnShowingInstructions,
	ColumnConfidentialRemarks,
	ColumnSupplementRemarks,
	ColumnConcessions,
	ColumnSaleFactors,
}

// columnToVariable maps API column names to prompt template variables.
var columnToVariable = map[string]string{
	ColumnRemarks:             "public_remarks",
	ColumnPrivateRemarks:      "private_agent_remarks",
	ColumnDirections:          "directions",
	ColumnShowingInstructions: "showing_instructions",
	ColumnConfidentialRemarks: "confidential_remarks",
	ColumnSupplementRemarks:   "supplement_remarks",
	ColumnConcessions:         "concessions",
	ColumnSaleFactors:         "sale_factors",
}

// variableToColumn is the inverse of columnToVariable.
var variableToColumn = func() map[string]string {
	m := make(map[string]string, len(columnToVariable))
	for col, v := range columnToVariable {
		m[v] = col
	}
	return m
}()

// Columns returns the eight known column names in canonical order.
// The returned slice must not be modified.
func Columns() []string {
	return columnOrder
}

// IsKnownColumn reports whether name is one of the eight checkable columns.
func IsKnownColumn(name string) bool {
	_, ok := columnToVariable[name]
	return ok
}

// VariableFor returns the template variable name for an API column.
func VariableFor(column string) (string, bool) {
	v, ok := columnToVariable[column]
	return v, ok
}

// ColumnFor returns the API column name for a template variable.
func ColumnFor(variable string) (string, bool) {
	c, ok := variableToColumn[variable]
	return c, ok
}
