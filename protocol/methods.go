package protocol

const (
	// Version is the JSON-RPC version string carried by every message.
	Version = "2.0"

	// ProtocolVersion is the MCP revision this implementation speaks. The
	// host rejects initialize requests naming any other revision.
	ProtocolVersion = "2025-03-26"
)

// Method names, aligned with the JSON-RPC 'method' field.
const (
	// Initialization handshake
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized" // Notification

	// Tools
	MethodListTools = "tools/list"
	MethodCallTool  = "tools/call"

	// Session teardown (explicit, optional)
	MethodShutdown = "shutdown"

	// Liveness
	MethodPing = "ping"
)
