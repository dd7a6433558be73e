package browser

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	assert.Equal(t, "wss://chrome.browserless.io?token=***", redact("wss://chrome.browserless.io?token=s3cr3t"))
	assert.Equal(t, "ws://127.0.0.1:9222", redact("ws://127.0.0.1:9222"))
}

func TestBlockedSet(t *testing.T) {
	got := blockedSet([]string{"Image", "Font", "Script", "Bogus"})
	assert.Len(t, got, 2)
	assert.Contains(t, got, proto.NetworkResourceTypeImage)
	assert.Contains(t, got, proto.NetworkResourceTypeFont)
	assert.Empty(t, blockedSet(nil))
}

type countingCloser struct{ closed int }

func (c *countingCloser) Close() error {
	c.closed++
	return nil
}

func TestRemoteCloseDropsConnectionOnly(t *testing.T) {
	conn := &countingCloser{}
	// b is nil: any Browser.close call would panic.
	rb := &rodBrowser{conn: conn}
	assert.NoError(t, rb.Close())
	assert.Equal(t, 1, conn.closed)
}
