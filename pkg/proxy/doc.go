// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package proxy provides the HTTP forwarder that lets a browser app under
// local development reach a backend on another origin. Requests arrive under a
// fixed path prefix, lose that prefix, and are relayed to a single upstream
// origin; the upstream response comes back with Access-Control-Allow-Origin
// forced to "*". There is no retry, caching or circuit breaking: upstream
// failures surface to the caller as 502/504.
package proxy
