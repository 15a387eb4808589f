package protocol

// HELLO (client -> server): first message on a feed connection.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientID        string `json:"client_id,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
}

// POST (server -> client): one newly inserted board entry. Delivery is
// at-least-once per connected client with no ordering guarantee
// relative to the inserting client's own HTTP response; readers dedupe
// by post id.
type PostMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Post            Post   `json:"post"`
}

// ErrorResponse is the uniform HTTP error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
