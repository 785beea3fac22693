package sshkey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A syntactically complete ed25519 key: wire-format type string plus a
// 32-byte key, so it also parses for fingerprinting.
var ed25519Data = "AAAAC3NzaC1lZDI1NTE5AAAAI" + strings.Repeat("A", 43)

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		blob string
		want bool
	}{
		{"ed25519", "ssh-ed25519 " + ed25519Data, true},
		{"ed25519 with comment", "ssh-ed25519 " + ed25519Data + " alice@laptop", true},
		{"rsa", "ssh-rsa AAAAB3NzaC1yc2EAAAADAQABAAAB", true},
		{"ecdsa p256", "ecdsa-sha2-nistp256 AAAAE2VjZHNhLXNoYTItbmlzdHAyNTY=", true},
		{"ecdsa p384", "ecdsa-sha2-nistp384 AAAA", true},
		{"ecdsa p521", "ecdsa-sha2-nistp521 AAAA", true},
		{"dss", "ssh-dss AAAA", true},
		{"unpadded base64", "ssh-rsa AAAAB3", true},
		{"surrounding whitespace", "  ssh-dss AAAA  \n", true},
		{"unknown type", "ssh-foo AAAA", false},
		{"certificate type", "ssh-ed25519-cert-v01@openssh.com AAAA", false},
		{"bad base64", "ssh-rsa not!!!base64", false},
		{"one token", "ssh-rsa", false},
		{"empty", "", false},
		{"whitespace only", "   ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.blob))
		})
	}
}

func TestFingerprint(t *testing.T) {
	fp, ok := Fingerprint("ssh-ed25519 " + ed25519Data + " alice@laptop")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(fp, "SHA256:"))

	// Format-valid but not wire-format parseable.
	_, ok = Fingerprint("ssh-rsa dGVzdA== alice@laptop")
	assert.False(t, ok)

	_, ok = Fingerprint("")
	assert.False(t, ok)
}

func TestComment(t *testing.T) {
	assert.Equal(t, "alice@laptop", Comment("ssh-ed25519 "+ed25519Data+" alice@laptop"))
	assert.Equal(t, "", Comment("ssh-ed25519 "+ed25519Data))
	assert.Equal(t, "", Comment(""))
}
