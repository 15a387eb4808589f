package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// CreateRequest is the validated body of POST /api/posts/create.
type CreateRequest struct {
	Username string    `json:"username"`
	Desc     string    `json:"desc"`
	Date     time.Time `json:"date"`
	AuthorID string    `json:"authorId,omitempty"`
}

const createRequestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["username", "desc", "date"],
  "properties": {
    "username": {"type": "string", "minLength": 1},
    "desc": {"type": "string", "minLength": 1},
    "date": {"type": "string", "minLength": 1},
    "authorId": {"type": "string"}
  },
  "additionalProperties": false
}`

const postMsgSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "protocol_version", "post"],
  "properties": {
    "type": {"const": "POST"},
    "protocol_version": {"type": "string"},
    "post": {
      "type": "object",
      "required": ["id", "username", "desc", "date"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "username": {"type": "string", "minLength": 1},
        "desc": {"type": "string", "minLength": 1},
        "date": {"type": "string", "minLength": 1},
        "authorId": {"type": "string"}
      }
    }
  }
}`

const helloMsgSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "protocol_version"],
  "properties": {
    "type": {"const": "HELLO"},
    "protocol_version": {"type": "string"},
    "client_id": {"type": "string"}
  }
}`

var (
	createRequestCompiled = jsonschema.MustCompileString("create_request.schema.json", createRequestSchema)
	postMsgCompiled       = jsonschema.MustCompileString("post_msg.schema.json", postMsgSchema)
	helloMsgCompiled      = jsonschema.MustCompileString("hello_msg.schema.json", helloMsgSchema)
)

// ParseCreateRequest validates and decodes a create body. Malformed
// input is rejected here, at the boundary, instead of being forwarded
// to the store.
func ParseCreateRequest(body []byte) (CreateRequest, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return CreateRequest{}, fmt.Errorf("decode body: %w", err)
	}
	if err := createRequestCompiled.Validate(raw); err != nil {
		return CreateRequest{}, fmt.Errorf("validate body: %w", err)
	}
	var req CreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return CreateRequest{}, fmt.Errorf("decode date: %w", err)
	}
	if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Desc) == "" {
		return CreateRequest{}, fmt.Errorf("username and desc must be non-empty")
	}
	return req, nil
}

// ValidatePostMsg checks a feed POST frame against its schema.
func ValidatePostMsg(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	return postMsgCompiled.Validate(raw)
}

// ValidateHelloMsg checks a feed HELLO frame against its schema.
func ValidateHelloMsg(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	return helloMsgCompiled.Validate(raw)
}
