package apiv1

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openAPIFile = "../../../public/docs/v1/openapi.yml"

func loadOpenAPI(t *testing.T) *openapi3.T {
	t.Helper()
	doc, err := openapi3.NewLoader().LoadFromFile(openAPIFile)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))
	return doc
}

func TestOpenAPI_DocumentsEveryRoute(t *testing.T) {
	doc := loadOpenAPI(t)
	env := setupTestEnv(t)

	routes := env.app.GetRoutes(true)
	require.NotEmpty(t, routes)
	for _, r := range routes {
		if r.Method == http.MethodHead {
			continue
		}
		path := strings.TrimPrefix(r.Path, "/api/v1")
		path = strings.ReplaceAll(path, ":id", "{id}")

		item := doc.Paths.Find(path)
		if !assert.NotNil(t, item, "undocumented path %s", path) {
			continue
		}
		assert.NotNil(t, item.GetOperation(r.Method), "undocumented %s %s", r.Method, path)
	}
	assert.NotNil(t, doc.Paths.Find("/ping"))
}

func TestOpenAPI_ResponsesMatchSchema(t *testing.T) {
	doc := loadOpenAPI(t)
	doc.Servers = openapi3.Servers{{URL: "http://ghostrelay.test/api/v1"}}
	router, err := gorillamux.NewRouter(doc)
	require.NoError(t, err)
	env := setupTestEnv(t)

	cases := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/runtime/bots/1", http.StatusOK},
		{http.MethodGet, "/runtime/bots/404", http.StatusNotFound},
		{http.MethodPost, "/runtime/reconcile", http.StatusOK},
		{http.MethodGet, "/runtime/bots", http.StatusOK},
		{http.MethodPost, "/runtime/bots/2/start", http.StatusConflict},
		{http.MethodPost, "/runtime/bots/1/stop", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "http://ghostrelay.test/api/v1"+tc.path, nil)
			resp, err := env.app.Test(req, 5000)
			require.NoError(t, err)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode, string(body))

			route, params, err := router.FindRoute(req)
			require.NoError(t, err)
			reqInput := &openapi3filter.RequestValidationInput{
				Request:    req,
				PathParams: params,
				Route:      route,
				Options: &openapi3filter.Options{
					AuthenticationFunc:    openapi3filter.NoopAuthenticationFunc,
					IncludeResponseStatus: true,
				},
			}
			err = openapi3filter.ValidateResponse(context.Background(), &openapi3filter.ResponseValidationInput{
				RequestValidationInput: reqInput,
				Status:                 resp.StatusCode,
				Header:                 resp.Header,
				Body:                   io.NopCloser(bytes.NewReader(body)),
				Options:                reqInput.Options,
			})
			assert.NoError(t, err)
		})
	}
}
