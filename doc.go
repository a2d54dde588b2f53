/*
Package mentor is a conversational education backend built around an
in-memory session layer with write-behind persistence.

The authoritative copy of every active learner session lives in process
memory. Reads and mutations are served from the cache synchronously,
while a background reconciler pushes snapshots to a durable store
(memory, Redis or a JSON file tree) with retries and backoff. The store
being slow or down never blocks a conversation; at worst, recent turns
are lost on a crash.

# Architecture

The repository follows a hexagonal layout. Core behavior lives in
pkg/session (cache, manager, reconciler and idle eviction) and is
decoupled from the outside world through pkg/ports. Driven adapters
implement the SessionStore port (pkg/adapters/memory, pkg/adapters/redis,
pkg/adapters/file); driving adapters expose the manager over HTTP and
MCP (internal/adapters). The root package wires everything from
configuration.

# Usage

	cfg, err := config.Load("mentor.yaml")
	if err != nil {
		log.Fatal(err)
	}

	app, err := mentor.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer app.Close()

	http.ListenAndServe(cfg.Server.Addr, app.Handler())

The cmd/mentord binary provides the same wiring as a CLI with serve and
mcp subcommands.
*/
package mentor

// Version is the release version reported by the CLI.
const Version = "0.1.0"
