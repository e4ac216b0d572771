package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name    string
		url     string
		wantOK  bool
		wantWhy string
	}{
		{"feed surface", "https://www.linkedin.com/feed/", true, "authenticated surface reached"},
		{"profile surface", "https://www.linkedin.com/in/jdoe/", true, "authenticated surface reached"},
		{"messaging surface", "https://www.linkedin.com/messaging/", true, "authenticated surface reached"},
		{"login redirect", "https://www.linkedin.com/login", false, "redirected to login"},
		{"checkpoint redirect", "https://www.linkedin.com/checkpoint/challenge", false, "redirected to login"},
		{"authwall redirect", "https://www.linkedin.com/authwall", false, "redirected to login"},
		{"unrecognized page", "https://www.linkedin.com/jobs/", false, "unexpected page"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := classify(tc.url)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantWhy, reason)
		})
	}
}

func TestProfileDir(t *testing.T) {
	assert.Equal(t, "profiles/acct-1", ProfileDir("profiles", "acct-1"))
}
