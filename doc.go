// Package urlloader loads a GraphQL schema from a remote endpoint and binds executors to it.
//
// About this library
//
// The loader accepts an http(s) or ws(s) endpoint and returns the remote schema together with
// two entry points: an executor for queries and mutations and a subscriber for subscriptions.
// Both talk to the endpoint directly, there is no intermediate gateway.
//
// Queries and mutations are sent over HTTP. Depending on configuration a request is encoded as
// GET with query string parameters, as a POST with a JSON body or as a multipart POST that
// follows the GraphQL multipart request convention for file uploads. Servers that answer with
// multipart/mixed (@defer, @stream) are read incrementally and every part is merged into one
// result which is handed out after each part.
//
// Subscriptions run over one of three transports:
// - graphql-transport-ws (the modern WebSocket subprotocol, default)
// - graphql-ws (the legacy subscriptions-transport-ws subprotocol)
// - Server-Sent Events
//
// The building blocks live in their own packages below pkg/ and can be used without the loader:
// urlscheme, headers, uploads, incremental, httpexec, subscription and introspection.
//
// The gqlurl command in cmd/gqlurl exposes the loader on the command line.
package urlloader
