// Package gateway is the composition root and HTTP front door of famlogger-server.
//
// # Components
//
// New builds, in order:
//
//   - the dedupe cache (retention and sweep interval from config)
//   - the outbound transport selected by transport.kind (Telegram or Matrix)
//   - the dispatch ledger, when database.path or database.dsn is set
//   - the JWT verifier, when auth.jwt_secret is set
//   - the dispatch service tying them together
//   - the gin engine and, when server.grpc_addr is set, a gRPC health server
//
// # Routes
//
//	GET  /api/v1/telegram/getDuplicates?chatId=&timeframe=&message=
//	POST /api/v1/telegram/sendMessage?chatId=     {"message": "...", "parseMode": "..."}
//	GET  /api/v1/dispatches?chatId=&status=&limit=
//	GET  /health
//
// Validation failures answer 400 with {"message":"Validation failed","errors":{...}}.
// Transport failures answer with the provider's 4xx code (400 otherwise) and
// {"success":false,"error":...,"errorCode":...}.
//
// # Lifecycle
//
// Run starts the cache sweep, opens listeners (plain TCP or a Tailscale tsnet
// node) and serves until its context is canceled. Shutdown stops the HTTP
// server, the gRPC server, the transport, the cache sweep and finally the ledger.
package gateway
