package beacon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/strongdm/jstrack/pkg/jstrack"
)

type collector struct {
	mu       sync.Mutex
	bodies   []map[string][]map[string]any
	headers  []http.Header
	status   int
	response string
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var body map[string][]map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.bodies = append(c.bodies, body)
	c.headers = append(c.headers, r.Header.Clone())

	status := c.status
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(c.response))
}

func TestBeaconSink_ImplementsSinkInterface(t *testing.T) {
	var _ jstrack.Sink = NewBeaconSink("http://localhost")
}

func TestBeaconSink_Write_PostsRecords(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(c)
	defer srv.Close()

	sink := NewBeaconSink(srv.URL, WithHeader("X-Api-Key", "k1"), WithHTTPClient(srv.Client()))

	img, _ := jstrack.ClassifyResourceLoad(jstrack.ResourceSignal{TagName: "IMG", URL: "http://x/y.png", BaseURL: "http://x/"})
	require.NoError(t, sink.Write(context.Background(), []jstrack.ErrorRecord{img, jstrack.ClassifyConsole("boom")}))

	require.Len(t, c.bodies, 1)
	records := c.bodies[0]["records"]
	require.Len(t, records, 2)
	assert.Equal(t, float64(4), records[0]["type"])
	assert.Equal(t, map[string]any{"baseUrl": "http://x/", "href": "http://x/y.png"}, records[0]["desc"])
	assert.Equal(t, "boom", records[1]["desc"])

	assert.Equal(t, "application/json", c.headers[0].Get("Content-Type"))
	assert.Equal(t, "k1", c.headers[0].Get("X-Api-Key"))
}

func TestBeaconSink_Write_Non2xxIsError(t *testing.T) {
	c := &collector{status: http.StatusServiceUnavailable, response: "collector overloaded\n"}
	srv := httptest.NewServer(c)
	defer srv.Close()

	sink := NewBeaconSink(srv.URL)
	err := sink.Write(context.Background(), []jstrack.ErrorRecord{jstrack.ClassifyConsole("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 503")
	assert.Contains(t, err.Error(), "collector overloaded")
}

func TestBeaconSink_Write_EmptyBatchSkipsRequest(t *testing.T) {
	c := &collector{}
	srv := httptest.NewServer(c)
	defer srv.Close()

	sink := NewBeaconSink(srv.URL)
	require.NoError(t, sink.Write(context.Background(), nil))
	assert.Empty(t, c.bodies)
}

func TestBeaconSink_Write_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(&collector{})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := NewBeaconSink(srv.URL)
	assert.ErrorIs(t, sink.Write(ctx, []jstrack.ErrorRecord{jstrack.ClassifyConsole("x")}), context.Canceled)
}

func TestBeaconSink_FlushAndClose(t *testing.T) {
	sink := NewBeaconSink("http://localhost")
	assert.NoError(t, sink.Flush(context.Background()))
	assert.NoError(t, sink.Close())
}
