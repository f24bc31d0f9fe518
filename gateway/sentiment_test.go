package gateway

import (
	"net/http"
	"reflect"
	"testing"

	"github.com/agiledragon/gomonkey/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFearGreedProvider_ParsesResponse patches the http.Client.Do method so
// the test never hits the network, in the monkey-patch style the teacher
// pulled gomonkey in for.
func TestFearGreedProvider_ParsesResponse(t *testing.T) {
	body := `{"data":[{"value":"23","value_classification":"Fear"}]}`

	patches := gomonkey.ApplyMethod(reflect.TypeOf(&http.Client{}), "Do",
		func(_ *http.Client, req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       newStringReadCloser(body),
			}, nil
		})
	defer patches.Reset()

	p := newFearGreedProvider("", 0)
	s, err := p.FetchSentiment()
	require.NoError(t, err)
	assert.Equal(t, 23.0, s.Value)
	assert.Equal(t, "Fear", s.Classification)
	assert.Equal(t, "alternative.me", s.Source)
}

func TestFearGreedProvider_NonOKStatus_ClassifiesError(t *testing.T) {
	patches := gomonkey.ApplyMethod(reflect.TypeOf(&http.Client{}), "Do",
		func(_ *http.Client, req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusTooManyRequests,
				Body:       newStringReadCloser(""),
			}, nil
		})
	defer patches.Reset()

	p := newFearGreedProvider("", 0)
	_, err := p.FetchSentiment()
	require.Error(t, err)
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, KindRateLimit, upErr.Kind)
}
