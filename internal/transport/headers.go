package transport

const (
	headerSessionID      = "Mcp-Session-Id"
	headerProtocolVer    = "MCP-Protocol-Version"
	headerLastEventID    = "Last-Event-ID"
	headerAccept         = "Accept"
	headerContentType    = "Content-Type"
)
