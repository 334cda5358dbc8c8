// Killfeed - EVE Online Killmail Ingestion Pipeline
// Copyright 2026 lostsec
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/lostsec/killfeed

package queue

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/lostsec/killfeed/internal/config"
	"github.com/lostsec/killfeed/internal/logging"
)

// embeddedStartTimeout bounds how long startup waits for the in-process
// NATS server to accept connections.
const embeddedStartTimeout = 10 * time.Second

// StartEmbeddedServer runs an in-process NATS server with JetStream for
// single-binary deployments. The caller owns shutdown.
func StartEmbeddedServer(cfg config.NATSConfig) (*server.Server, error) {
	host, port, err := splitNATSURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts := &server.Options{
		Host:      host,
		Port:      port,
		JetStream: true,
		StoreDir:  cfg.StoreDir,
		NoSigs:    true,
		NoLog:     true,
	}

	srv, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded NATS server: %w", err)
	}

	go srv.Start()
	if !srv.ReadyForConnections(embeddedStartTimeout) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready within %s", embeddedStartTimeout)
	}

	logging.Info().Str("url", cfg.URL).Str("store_dir", cfg.StoreDir).Msg("Embedded NATS server ready")
	return srv, nil
}

func splitNATSURL(raw string) (string, int, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, fmt.Errorf("invalid NATS URL %q: %w", raw, err)
	}
	host := u.Hostname()
	if host == "" {
		host = "127.0.0.1"
	}
	port := 4222
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return "", 0, fmt.Errorf("invalid NATS port in %q: %w", raw, err)
		}
	}
	return host, port, nil
}
