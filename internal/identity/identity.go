// AC Wrapper - Dedicated Racing Server Sidecar
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/acwrapper

// Package identity hides the wrapped server's raw player identities (GUIDs)
// from clients.
//
// Raw identities are replaced by salted SHA-1 public ids. In GUID mode the
// status document also carries a per-slot placeholder which ResolvePlaceholders
// rewrites to a boolean for each requester, directly on the serialised text.
//
// The salts are part of the public protocol: clients compute the same
// digests, so they must not change.
package identity

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // protocol-defined digest, not used for secrecy
	"encoding/hex"
	"strings"
)

const (
	publicIDSalt         = "antarcticfurseal"
	passwordChecksumSalt = "apatosaur"
	downloadPasswordSalt = "tanidolizedhoatzin"

	// NameTagSeparator precedes the wrapper port appended to the advertised
	// server name, so clients can find the wrapper from the lobby entry.
	NameTagSeparator = "ℹ"

	// nullIdentity is hashed for empty slots.
	nullIdentity = "null"
)

func digest(parts ...string) string {
	h := sha1.New() //nolint:gosec // see import
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// PublicID maps a raw identity to its public id. An empty raw identity
// (free slot) maps to the digest of "null".
func PublicID(raw string) string {
	if raw == "" {
		raw = nullIdentity
	}
	return digest(publicIDSalt, raw)
}

// StripNameTag removes the " ℹ<port>" suffix from a server name.
func StripNameTag(name string) string {
	if i := strings.LastIndex(name, NameTagSeparator); i >= 0 {
		return strings.TrimSpace(name[:i])
	}
	return name
}

// PasswordChecksum lets a client verify a password guess offline. The
// server name is used without its port tag; an empty password hashes as
// "null".
func PasswordChecksum(serverName, password string) string {
	if password == "" {
		password = nullIdentity
	}
	return digest(passwordChecksumSalt, StripNameTag(serverName), password)
}

// DownloadToken is the value clients send as ?password= for content downloads.
func DownloadToken(password string) string {
	return digest(downloadPasswordSalt, password)
}

const (
	placeholderPrefix = "guid:"
	emptyPlaceholder  = placeholderPrefix + "-"
)

var (
	placeholderKey = []byte(`"IsRequestedGUID":"` + placeholderPrefix)
	resolvedTrue   = []byte(`"IsRequestedGUID":true`)
	resolvedFalse  = []byte(`"IsRequestedGUID":false`)
)

// Placeholder encodes raw as the string value stored under IsRequestedGUID
// until ResolvePlaceholders runs. The identity is hex-encoded, so quotes,
// backslashes or separator characters in a raw identity cannot break out of
// the JSON string or collide with the marker. Free slots get a value that
// never matches a requester.
func Placeholder(raw string) string {
	if raw == "" {
		return emptyPlaceholder
	}
	return placeholderPrefix + hex.EncodeToString([]byte(raw))
}

// ResolvePlaceholders rewrites every "IsRequestedGUID":"guid:<hex>" pair in
// serialized to true when <hex> encodes requester and to false otherwise.
// An empty requester resolves every slot to false. serialized is not
// modified; a new slice is returned.
func ResolvePlaceholders(serialized []byte, requester string) []byte {
	want := ""
	if requester != "" {
		want = hex.EncodeToString([]byte(requester))
	}

	var out bytes.Buffer
	out.Grow(len(serialized))

	rest := serialized
	for {
		i := bytes.Index(rest, placeholderKey)
		if i < 0 {
			out.Write(rest)
			break
		}
		valueStart := i + len(placeholderKey)
		end := bytes.IndexByte(rest[valueStart:], '"')
		if end < 0 {
			out.Write(rest)
			break
		}

		out.Write(rest[:i])
		encoded := rest[valueStart : valueStart+end]
		if want != "" && string(encoded) == want {
			out.Write(resolvedTrue)
		} else {
			out.Write(resolvedFalse)
		}
		rest = rest[valueStart+end+1:]
	}
	return out.Bytes()
}
