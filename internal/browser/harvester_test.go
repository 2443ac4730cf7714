package browser

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func request(id, url string) *network.EventRequestWillBeSent {
	wall := cdp.TimeSinceEpoch(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return &network.EventRequestWillBeSent{
		RequestID: network.RequestID(id),
		Request:   &network.Request{URL: url, Method: "GET"},
		Type:      network.ResourceTypeDocument,
		WallTime:  &wall,
	}
}

func TestHarvesterLifecycle(t *testing.T) {
	h := NewHarvester("tab-1", 10, zap.NewNop())

	h.handleEvent(request("1", "https://example.com/"))
	h.handleEvent(&network.EventResponseReceived{
		RequestID: "1",
		Response:  &network.Response{Status: 200, MimeType: "text/html", Headers: network.Headers{"Content-Type": "text/html"}},
	})
	h.handleEvent(&network.EventLoadingFinished{RequestID: "1"})

	h.handleEvent(request("2", "https://example.com/missing.js"))
	h.handleEvent(&network.EventLoadingFailed{RequestID: "2", ErrorText: "net::ERR_NAME_NOT_RESOLVED"})

	// Events for unknown requests are ignored.
	h.handleEvent(&network.EventLoadingFinished{RequestID: "99"})

	entries := h.Entries(false)
	require.Len(t, entries, 2)

	doc := entries[0]
	assert.Equal(t, "tab-1", doc.TabID)
	assert.Equal(t, "https://example.com/", doc.URL)
	assert.Equal(t, "Document", doc.ResourceType)
	assert.Equal(t, int64(200), doc.Status)
	assert.Equal(t, "text/html", doc.Headers["Content-Type"])
	assert.Equal(t, 2024, doc.StartedAt.Year())
	assert.NotNil(t, doc.FinishedAt)
	assert.False(t, doc.Failed)

	assert.True(t, entries[1].Failed)
	assert.Equal(t, "net::ERR_NAME_NOT_RESOLVED", entries[1].ErrorText)

	assert.Len(t, h.Entries(true), 2)
	assert.Empty(t, h.Entries(false), "clear empties the buffer")
}

func TestHarvesterRedirect(t *testing.T) {
	h := NewHarvester("tab-1", 10, zap.NewNop())
	h.handleEvent(request("1", "http://example.com/"))

	next := request("1", "https://example.com/")
	next.RedirectResponse = &network.Response{Status: 301}
	h.handleEvent(next)

	entries := h.Entries(false)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(301), entries[0].Status)
	assert.NotNil(t, entries[0].FinishedAt)
	assert.Equal(t, "https://example.com/", entries[1].URL)
}

func TestHarvesterLimit(t *testing.T) {
	h := NewHarvester("tab-1", 2, zap.NewNop())
	for _, id := range []string{"a", "b", "c"} {
		h.handleEvent(request(id, "https://example.com/"+id))
	}
	// The evicted request no longer receives updates.
	h.handleEvent(&network.EventLoadingFailed{RequestID: "a", ErrorText: "late"})

	entries := h.Entries(false)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].RequestID)
	assert.Equal(t, "c", entries[1].RequestID)
	assert.False(t, entries[0].Failed)
}
