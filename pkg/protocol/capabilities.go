package protocol

// ServerCapabilities describes what an MCP backend advertises during its own
// initialize exchange. A nil pointer means the feature is not supported.
type ServerCapabilities struct {
	Experimental map[string]map[string]interface{} `json:"experimental,omitempty"`
	Logging      *LoggingCapability                `json:"logging,omitempty"`
	Prompts      *PromptsCapability                `json:"prompts,omitempty"`
	Resources    *ResourcesCapability              `json:"resources,omitempty"`
	Tools        *ToolsCapability                  `json:"tools,omitempty"`
}

// ClientCapabilities describes what the host advertises to an MCP backend.
type ClientCapabilities struct {
	Experimental map[string]map[string]interface{} `json:"experimental,omitempty"`
	Roots        *RootsCapability                  `json:"roots,omitempty"`
	Sampling     *SamplingCapability               `json:"sampling,omitempty"`
}

// LoggingCapability marks logging support. It carries no fields.
type LoggingCapability struct{}

// SamplingCapability marks sampling support.
type SamplingCapability struct{}

// RootsCapability describes roots support.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// PromptsCapability describes prompt listing support.
type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability describes resource support.
type ResourcesCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
	Subscribe   bool `json:"subscribe,omitempty"`
}

// ToolsCapability describes tool support.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}
