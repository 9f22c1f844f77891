// Package protocol is the chat socket wire format: one JSON object per
// frame, discriminated by its "type" field.
//
// Outbound and Inbound are closed sets. Only the types declared here satisfy
// them, so a type switch over either one lists every case the backend can
// produce or accept.
package protocol
