package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	eventbus "github.com/hanpama/procroute/internal/eventbus"
	logger "github.com/hanpama/procroute/internal/logger"
	"github.com/hanpama/procroute/internal/middleware/authn"
	procedure "github.com/hanpama/procroute/internal/procedure"
)

func TestRun_ServesProceduresAndMetrics(t *testing.T) {
	eventbus.Use(nil)
	t.Cleanup(func() { eventbus.Use(nil) })

	config := DefaultConfig()
	config.Cache.Size = 100
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServerContext(config, logger.NewNoopLogger()).Run(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	client := &http.Client{Timeout: 5 * time.Second}

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = client.Get(base + "/greet?input=" + url.QueryEscape(`"ada"`))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"result":"hello, ada"}`, string(body))

	resp, err = client.Post(base+"/incr", "application/json", bytes.NewBufferString(`{"by":-3}`))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = client.Get(base + config.Metrics.Path)
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Contains(t, string(body), `procroute_procedure_calls_total{code="OK",key="greet",kind="query"} 1`)
	require.Contains(t, string(body), `procroute_procedure_calls_total{code="InvalidArgument",key="incr",kind="mutation"} 1`)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestHandler_ForwardsAuthorization(t *testing.T) {
	eventbus.Use(nil)
	t.Cleanup(func() { eventbus.Use(nil) })

	config := DefaultConfig()
	config.Authn.Secret = testSecret
	config.HTTP.MetadataHeaders = []string{"X-Tenant"}
	h, cleanup, err := NewServerContext(config, logger.NewNoopLogger()).Handler()
	require.NoError(t, err)
	t.Cleanup(cleanup)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	token, err := authn.Sign([]byte(testSecret), jwt.RegisteredClaims{
		Subject:   "ada",
		Issuer:    config.Authn.Issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/account.me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	var body struct {
		Result profile `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ada", body.Result.Subject)

	resp, err = srv.Client().Get(srv.URL + "/account.me")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServerContext_MetadataHeaders(t *testing.T) {
	config := DefaultConfig()
	config.HTTP.MetadataHeaders = []string{"X-Tenant"}
	require.Equal(t, []string{"X-Tenant"}, NewServerContext(config, logger.NewNoopLogger()).metadataHeaders())

	config.Authn.Secret = testSecret
	require.Equal(t, []string{"X-Tenant", "authorization"}, NewServerContext(config, logger.NewNoopLogger()).metadataHeaders())
	require.Equal(t, []string{"X-Tenant"}, config.HTTP.MetadataHeaders)

	config.HTTP.MetadataHeaders = []string{"Authorization"}
	require.Equal(t, []string{"Authorization"}, NewServerContext(config, logger.NewNoopLogger()).metadataHeaders())
}

func TestHandler_RejectsBadCacheConfig(t *testing.T) {
	config := DefaultConfig()
	config.Cache.Size = -1
	_, _, err := NewServerContext(config, logger.NewNoopLogger()).Handler()
	require.ErrorContains(t, err, "cache init")
}

func TestProceduresCommand(t *testing.T) {
	resetViper(t)
	root := NewRootCommand()
	root.AddCommand(NewProceduresCommand())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"procedures", "--authn-secret", "x"})
	require.NoError(t, root.Execute())

	var infos []procedure.Info
	require.NoError(t, json.Unmarshal(out.Bytes(), &infos))
	var keys []string
	for _, info := range infos {
		keys = append(keys, info.Kind.String()+" "+info.Key)
	}
	require.Equal(t, []string{
		"query account.me",
		"query counter",
		"query greet",
		"query sum",
		"mutation incr",
		"subscription ticks",
	}, keys)
}
