/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"crypto/tls"
	"net"
)

// TLSHook wraps accepted connections in a TLS server handshake, matching
// a per-listener TLS setup baked into the accept path.
// Generalized here into an IOHook so the reactor's accept path doesn't need
// a TLS-aware branch: a plaintext listener simply has no TLSHook installed.
type TLSHook struct {
	config *tls.Config
}

// NewTLSHook clones cfg (a defensive
// copy, so mutating the caller's config afterward can't affect live
// listeners) and returns a hook that upgrades WrapConn's argument to TLS.
func NewTLSHook(cfg *tls.Config) *TLSHook {
	return &TLSHook{config: cfg.Clone()}
}

func (h *TLSHook) Name() string { return "tls" }

func (h *TLSHook) WrapConn(raw net.Conn) (net.Conn, error) {
	return tls.Server(raw, h.config), nil
}
