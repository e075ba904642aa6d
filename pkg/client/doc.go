// Package client is the Go client for the Tome HTTP API.
//
// # Overview
//
// One Client wraps the whole surface with typed methods and explicit
// errors:
//
//	c, _ := client.New("http://localhost:8080")
//	user, err := c.Login(ctx, "dev@example.com", password)
//	doc, err := c.UploadFile(ctx, domainID, "guide.md")
//	answer, err := c.Chat(ctx, domainID, uuid.Nil, "how do I reset?")
//
// Server failures come back as *APIError carrying the wire code and
// HTTP status, and unwrap to the matching pkg/errdefs sentinel, so a
// caller branches the same way on both sides of the wire:
//
//	if errdefs.IsNotFound(err) { ... }
//
// StreamChat dials the websocket endpoint and surfaces the delta stream
// through a callback; the returned answer is the final authoritative
// frame. The CLI keeps its login in ~/.tome/credentials.json via
// SaveCredentials and reconnects with Connect.
//
// # Integration Points
//
//   - pkg/api: the server this client speaks to
//   - pkg/errdefs: the taxonomy client errors unwrap into
//   - pkg/types, pkg/query: response types shared with the server
//   - cmd/tome: the CLI built on this package
package client
