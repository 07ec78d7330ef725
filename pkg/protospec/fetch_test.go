package protospec

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpflow/pkg/domain"
)

func pausedEvent(params string) *domain.Event {
	return &domain.Event{
		Class:  "fetch.request_paused",
		Method: "Fetch.requestPaused",
		Params: []byte(params),
	}
}

func TestFetchDomainDefaults(t *testing.T) {
	cfg := (&FetchSettings{}).Domain()

	assert.Equal(t, "fetch", cfg.Name)
	assert.Equal(t, "fetch.enable", cfg.Enable)
	assert.Equal(t, "fetch.disable", cfg.Disable)

	pats := cfg.EnableArgs["patterns"].([]map[string]any)
	require.Len(t, pats, 1)
	assert.Equal(t, "*", pats[0]["urlPattern"])
	assert.Equal(t, "Request", pats[0]["requestStage"])
	assert.Equal(t, false, cfg.EnableArgs["handleAuthRequests"])

	require.Contains(t, cfg.Events, "request_paused")
	assert.NotContains(t, cfg.Events, "auth_required")

	ec := cfg.Events["request_paused"]
	assert.Equal(t, "fetch.request_paused", ec.Class)
	assert.Equal(t, DefaultCorrelationKey, ec.CorrelationKey)
	assert.Contains(t, ec.Actions.Actions, ActionContinueRequest)
	assert.Contains(t, ec.Actions.Actions, ActionFailRequest)
	assert.Contains(t, ec.Actions.Actions, ActionContinueResponse)
	assert.NotContains(t, ec.Actions.Actions, ActionFulfillRequest)
}

func TestFetchDomainWithAuth(t *testing.T) {
	cfg := (&FetchSettings{HandleAuth: true}).Domain()

	assert.Equal(t, true, cfg.EnableArgs["handleAuthRequests"])
	require.Contains(t, cfg.Events, "auth_required")
	assert.Contains(t, cfg.Events["auth_required"].Actions.Actions, ActionContinueWithAuth)
}

func TestFetchDomainAuthImpliedBySettings(t *testing.T) {
	cfg := (&FetchSettings{
		AuthRequired: &AuthRequiredSettings{},
	}).Domain()

	assert.Equal(t, true, cfg.EnableArgs["handleAuthRequests"])
	require.Contains(t, cfg.Events, "auth_required")
}

func TestDomainsSettingsTable(t *testing.T) {
	table := DomainsSettings{}.Table()
	assert.Empty(t, table)

	table = DomainsSettings{Fetch: &FetchSettings{}}.Table()
	require.Contains(t, table, "fetch")
	assert.Equal(t, "fetch", table["fetch"].Name)
}

func TestDefaultActions(t *testing.T) {
	assert.Equal(t, []string{ActionContinueRequest}, DefaultActions("fetch.request_paused"))
	assert.Equal(t, []string{ActionContinueWithAuth}, DefaultActions("fetch.auth_required"))
	assert.Equal(t, []string{ActionContinueRequest}, DefaultActions("network.loading_failed"))
}

func TestRequestHeadersParam(t *testing.T) {
	ph := requestHeadersParam(map[string]HeaderInstance{
		"User-Agent": {Value: "bot/1.0", Instruction: HeaderSet},
		"Accept":     {Value: "never", Instruction: HeaderSetExist},
		"Cookie":     {Instruction: HeaderRemove},
		"X-Missing":  {Value: "skip", Instruction: HeaderSetExist},
	})
	ev := pausedEvent(`{
		"requestId": "r1",
		"request": {"headers": {"User-Agent": "real", "Accept": "text/html", "Cookie": "secret"}}
	}`)

	args := NewArgMap()
	require.NoError(t, ph.Func(context.Background(), ev, ph.Instances, args))

	got, ok := args.Get("headers")
	require.True(t, ok)
	entries := got.([]map[string]string)
	assert.Equal(t, []map[string]string{
		{"name": "Accept", "value": "never"},
		{"name": "User-Agent", "value": "bot/1.0"},
	}, entries)
}

func TestResponseHeadersParam(t *testing.T) {
	ph := responseHeadersParam(map[string]HeaderInstance{
		"Server": {Value: "hidden"},
	})
	ev := pausedEvent(`{
		"requestId": "r1",
		"responseHeaders": [
			{"name": "Server", "value": "nginx"},
			{"name": "Content-Type", "value": "text/html"}
		]
	}`)

	args := NewArgMap()
	require.NoError(t, ph.Func(context.Background(), ev, ph.Instances, args))

	got, ok := args.Get("responseHeaders")
	require.True(t, ok)
	assert.Equal(t, []map[string]string{
		{"name": "Content-Type", "value": "text/html"},
		{"name": "Server", "value": "hidden"},
	}, got)
}

func TestPostDataParamReplace(t *testing.T) {
	body := `{"user":"alice"}`
	ph := postDataParam(&ContinueRequestSettings{PostData: &body})
	ev := pausedEvent(`{"requestId":"r1","request":{"postData":"{\"user\":\"bob\"}"}}`)

	args := NewArgMap()
	require.NoError(t, ph.Func(context.Background(), ev, ph.Instances, args))

	got, _ := args.Get("postData")
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte(body)), got)
}

func TestPostDataParamPatch(t *testing.T) {
	ph := postDataParam(&ContinueRequestSettings{
		BodyPatch: map[string]any{"user": "alice"},
	})
	ev := pausedEvent(`{"requestId":"r1","request":{"postData":"{\"user\":\"bob\",\"keep\":1}"}}`)

	args := NewArgMap()
	require.NoError(t, ph.Func(context.Background(), ev, ph.Instances, args))

	got, _ := args.Get("postData")
	raw, err := base64.StdEncoding.DecodeString(got.(string))
	require.NoError(t, err)
	assert.JSONEq(t, `{"user":"alice","keep":1}`, string(raw))
}

func TestFailRequestSpecDefaultReason(t *testing.T) {
	spec := (&RequestPausedSettings{}).failRequestSpec()
	assert.Equal(t, "fetch.fail_request", spec.Command)

	args := NewArgMap()
	require.NoError(t, spec.Params["errorReason"].Func(context.Background(), nil, spec.Params["errorReason"].Instances, args))
	got, _ := args.Get("errorReason")
	assert.Equal(t, "Failed", got)
}

func TestAuthSpecDefaults(t *testing.T) {
	spec := authSpec(nil)
	assert.Equal(t, "fetch.continue_with_auth", spec.Command)

	args := NewArgMap()
	ph := spec.Params["authChallengeResponse"]
	require.NoError(t, ph.Func(context.Background(), nil, ph.Instances, args))
	got, _ := args.Get("authChallengeResponse")
	assert.Equal(t, map[string]any{"response": AuthRespDefault}, got)
}

func TestAuthSpecCredentials(t *testing.T) {
	user, pass := "alice", "s3cret"
	spec := authSpec(&ContinueWithAuthSettings{
		Response: AuthRespCredentials,
		Username: &user,
		Password: &pass,
	})

	args := NewArgMap()
	ph := spec.Params["authChallengeResponse"]
	require.NoError(t, ph.Func(context.Background(), nil, ph.Instances, args))
	got, _ := args.Get("authChallengeResponse")
	assert.Equal(t, map[string]any{
		"response": AuthRespCredentials,
		"username": "alice",
		"password": "s3cret",
	}, got)
}

func TestFulfillSpec(t *testing.T) {
	spec := (&FulfillRequestSettings{
		Status: 404,
		Body:   []byte("gone"),
	}).spec()
	assert.Equal(t, "fetch.fulfill_request", spec.Command)
	assert.Contains(t, spec.Params, "responseCode")
	assert.Contains(t, spec.Params, "body")
	assert.NotContains(t, spec.Params, "responsePhrase")
}

func TestArgMapConcurrentWrites(t *testing.T) {
	args := NewArgMap()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		i := i
		go func() {
			defer func() { done <- struct{}{} }()
			args.Set(string(rune('a'+i)), i)
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Equal(t, 8, args.Len())

	snapshot := args.Map()
	args.Set("z", 99)
	assert.NotContains(t, snapshot, "z")
}
