// Package tools defines the operations callable over MCP.
//
// A Registry keeps tools with their JSON Schemas and dispatches calls by name.
// Missing required arguments and values the underwriting rules reject come back
// as a Result with IsError set, so the calling agent can correct itself; the
// error return is kept for unknown tools and internal faults.
//
// QuoteTools builds the quote workflow: identify the vehicle (by plate or by
// hand), record the subscriber, record the claims history, list the formulas,
// and generate the final quote. The steps share no state; the final quote takes
// every fact it needs as arguments.
package tools
