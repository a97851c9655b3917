package mcpbridge

// Manifest describes the bridge for MCP host catalogues. It is printed by
// data-mcp --manifest and matches what tools/list returns at runtime.
type Manifest struct {
	SchemaVersion string           `json:"schemaVersion"`
	Name          string           `json:"name"`
	Version       string           `json:"version"`
	Description   string           `json:"description"`
	Tools         []ToolDefinition `json:"tools"`
}

// Manifest returns the manifest of the tools in r.
func (r *ToolRegistry) Manifest(version string) Manifest {
	return Manifest{
		SchemaVersion: protocolVersion,
		Name:          serverName,
		Version:       version,
		Description:   "D.A.T.A. detections, Shannon Score weights and MITRE classification",
		Tools:         r.Definitions(),
	}
}
