// Package mcp implements the Model Context Protocol endpoint of the gateway.
//
// # Protocol
//
// The server speaks JSON-RPC 2.0 over the Streamable HTTP transport in
// stateless mode: every message is a POST to /mcp answered with a single JSON
// body, and no Mcp-Session-Id is issued. GET and DELETE answer 405.
//
// Supported methods:
//
//   - initialize: negotiates the protocol version (2025-03-26, 2025-06-18, 2025-11-25)
//   - ping
//   - tools/list: the quote tools with their JSON Schemas
//   - tools/call: runs a tool; rejected arguments come back with isError set
//
// Notifications are accepted with 202 and no body.
//
// # Tool Execution
//
//	{
//	  "jsonrpc": "2.0",
//	  "method": "tools/call",
//	  "params": {
//	    "name": "matdevis_formules",
//	    "arguments": {"bonus_malus": 0.85, "valeur_vehicule": 18500, "annee_vehicule": 2021}
//	  },
//	  "id": 2
//	}
//
// # Authentication
//
// The server does not authenticate. The gateway mounts auth.Gate in front of it
// when authentication is enabled.
package mcp
