package sshkey

import (
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Key types accepted in the declarative repository. Anything else is
// rejected outright rather than installed speculatively.
var validTypes = map[string]bool{
	"ssh-rsa":             true,
	"ssh-ed25519":         true,
	"ecdsa-sha2-nistp256": true,
	"ecdsa-sha2-nistp384": true,
	"ecdsa-sha2-nistp521": true,
	"ssh-dss":             true,
}

// Validate reports whether blob looks like an OpenSSH public key: a known
// key type followed by a base64 data segment, with an optional comment.
// This is a format check only; the key material is not verified
// cryptographically.
func Validate(blob string) bool {
	parts := strings.Fields(strings.TrimSpace(blob))
	if len(parts) < 2 {
		return false
	}
	if !validTypes[parts[0]] {
		return false
	}
	if _, err := base64.StdEncoding.DecodeString(parts[1]); err != nil {
		// Tolerate keys written without padding.
		if _, err := base64.RawStdEncoding.DecodeString(parts[1]); err != nil {
			return false
		}
	}
	return true
}

// Fingerprint returns the SHA256 fingerprint of a fully parseable key.
// Keys that pass Validate but do not parse as OpenSSH wire format (the
// base64 segment encodes something else) report ok=false.
func Fingerprint(blob string) (fp string, ok bool) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(strings.TrimSpace(blob)))
	if err != nil {
		return "", false
	}
	return ssh.FingerprintSHA256(pub), true
}

// Comment returns the optional comment token of a key blob, or "".
func Comment(blob string) string {
	parts := strings.Fields(strings.TrimSpace(blob))
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}
