package cdp

import (
	"testing"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopharness/pkg/traffic"
)

func TestToNeutralRequest(t *testing.T) {
	body := `{"productId":"p1"}`
	ev := &fetch.RequestPausedReply{
		RequestID: "interception-1",
		Request: network.Request{
			URL:      "http://shop.test/cart/items",
			Method:   "post",
			Headers:  network.Headers(`{"Content-Type":"application/json","X-Token":"abc"}`),
			PostData: &body,
		},
		ResourceType: network.ResourceTypeXHR,
	}
	req := ToNeutralRequest(ev)
	assert.Equal(t, "interception-1", req.ID)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "XHR", req.ResourceType)
	assert.Equal(t, "abc", req.Headers.Get("x-token"))
	assert.Equal(t, "application/json", req.Headers.Get("Content-Type"))
	assert.Equal(t, body, string(req.Body))

	ev.Request.Headers = network.Headers(`not json`)
	ev.Request.PostData = nil
	req = ToNeutralRequest(ev)
	assert.Empty(t, req.Headers)
	assert.Nil(t, req.Body)
}

func TestToFulfillArgs(t *testing.T) {
	res := &traffic.Response{
		StatusCode:  403,
		ContentType: "application/json",
		Headers:     traffic.Header{"x-b": "2", "x-a": "1"},
		Body:        []byte(`{"error":"denied"}`),
	}
	args := ToFulfillArgs("id-1", res)
	assert.Equal(t, fetch.RequestID("id-1"), args.RequestID)
	assert.Equal(t, 403, args.ResponseCode)
	require.NotNil(t, args.ResponsePhrase)
	assert.Equal(t, "Forbidden", *args.ResponsePhrase)
	assert.Equal(t, []fetch.HeaderEntry{
		{Name: "content-type", Value: "application/json"},
		{Name: "x-a", Value: "1"},
		{Name: "x-b", Value: "2"},
	}, args.ResponseHeaders)
	assert.Equal(t, res.Body, args.Body)

	args = ToFulfillArgs("id-2", &traffic.Response{StatusCode: 299})
	assert.Nil(t, args.ResponsePhrase)
	assert.Nil(t, args.Body)
}

func TestToFailArgs(t *testing.T) {
	args := ToFailArgs("id-3")
	assert.Equal(t, network.ErrorReasonBlockedByClient, args.ErrorReason)
}
