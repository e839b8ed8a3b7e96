package copilot

// Obligation is a single compliance requirement extracted from regulatory
// text.
type Obligation struct {
	ID           string `json:"id"`
	Summary      string `json:"summary"`
	Category     string `json:"category"` // e.g. "data_retention", "consent", "reporting"
	Actor        string `json:"actor"`    // who the obligation binds
	Citation     string `json:"citation"` // article/section reference in the source text
	Deadline     string `json:"deadline,omitempty"`
	Mandatory    bool   `json:"mandatory"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
}

// MappingEntry links one obligation to a control and the code that
// implements it.
type MappingEntry struct {
	ObligationID string `json:"obligation_id"`
	ControlID    string `json:"control_id"`
	CodePath     string `json:"code_path,omitempty"`
	Status       string `json:"status"` // "covered", "partial", "missing"
	Rationale    string `json:"rationale,omitempty"`
}

// Mapping is the result of mapping obligations onto a compliance framework
// and an existing codebase.
type Mapping struct {
	Framework string         `json:"framework"`
	Entries   []MappingEntry `json:"entries"`
}

// GeneratedFile is one file produced by code generation.
type GeneratedFile struct {
	Path     string `json:"path"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

// GeneratedFiles is the result of generating compliant code for an
// obligation.
type GeneratedFiles struct {
	Files []GeneratedFile `json:"files"`
	Notes string          `json:"notes,omitempty"`
}
