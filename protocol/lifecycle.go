package protocol

// Implementation describes the name and version of an MCP implementation,
// client or server.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities describes features the client supports.
type ClientCapabilities struct {
	Experimental map[string]interface{} `json:"experimental,omitempty"`
}

// ServerCapabilities describes features the server supports.
type ServerCapabilities struct {
	Experimental map[string]interface{} `json:"experimental,omitempty"`
	Tools        *struct {
		ListChanged bool `json:"listChanged,omitempty"`
	} `json:"tools,omitempty"`
}

// InitializeRequestParams defines the parameters for the 'initialize' request.
type InitializeRequestParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult defines the result payload for a successful 'initialize'
// response. SessionID is the opaque identifier the caller must present on
// every subsequent request for transports that carry it out of band.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	SessionID       string             `json:"sessionId,omitempty"`
	Instructions    string             `json:"instructions,omitempty"`
}

// InitializedNotificationParams is the payload for the 'initialized'
// notification (empty).
type InitializedNotificationParams struct{}

// ShutdownParams is the payload for the 'shutdown' request (empty).
type ShutdownParams struct{}

// ShutdownResult is the result payload for a 'shutdown' response (empty).
type ShutdownResult struct{}
