package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	i := Info{Version: "v0.3.0", CommitHash: "0123456789abcdef", BuildTime: "2024-03-10", GoVersion: "go1.22", Platform: "linux/amd64"}
	assert.Equal(t, "0123456", i.Short())
	assert.Equal(t, "netpulse v0.3.0 (commit 0123456, built 2024-03-10, go1.22 linux/amd64)", i.String())

	assert.Equal(t, "dev", Info{CommitHash: "dev"}.Short())
	assert.NotEmpty(t, Get().GoVersion)
}
