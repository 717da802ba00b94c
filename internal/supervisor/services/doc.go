// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

// Package services adapts the wrapper's components to suture.Service:
// the wrapped server (ACServerService), the startup geo lookup
// (GeoService) and the gateway's HTTP server (HTTPServerService).
package services
