package api

import (
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jmcleod/sessionguard/session"
)

// openAPIDoc is the part of openapi.yaml the drift check reads.
type openAPIDoc struct {
	Paths map[string]map[string]any `yaml:"paths"`
}

// TestOpenAPIDrift compares the routes registered on the chi router with the
// paths documented in the embedded openapi.yaml.
func TestOpenAPIDrift(t *testing.T) {
	var doc openAPIDoc
	if err := yaml.Unmarshal(openapiSpec, &doc); err != nil {
		t.Fatalf("failed to parse openapi.yaml: %v", err)
	}

	specRoutes := make(map[string]bool)
	for path, methods := range doc.Paths {
		for method := range methods {
			method = strings.ToUpper(method)
			// Skip OpenAPI extension keys (x-...) and parameters.
			if strings.HasPrefix(strings.ToLower(method), "x-") || method == "PARAMETERS" {
				continue
			}
			specRoutes[method+" "+path] = true
		}
	}

	// Router() only registers routes, so a zero-value API is enough.
	a := &API{}
	router := a.Router()

	chiRoutes := make(map[string]bool)
	err := chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		// Normalise trailing slashes for consistent comparison.
		route = strings.TrimRight(route, "/")
		if route == "" {
			route = "/"
		}

		// Skip utility/doc routes that aren't part of the API contract.
		if route == "/openapi.yaml" ||
			strings.HasPrefix(route, "/docs") ||
			strings.HasPrefix(route, "/redoc") {
			return nil
		}

		chiRoutes[method+" "+route] = true
		return nil
	})
	if err != nil {
		t.Fatalf("chi.Walk failed: %v", err)
	}

	var undocumented []string
	for route := range chiRoutes {
		if !specRoutes[route] {
			undocumented = append(undocumented, route)
		}
	}
	sort.Strings(undocumented)

	var stale []string
	for route := range specRoutes {
		if !chiRoutes[route] {
			stale = append(stale, route)
		}
	}
	sort.Strings(stale)

	if len(undocumented) > 0 {
		t.Errorf("routes registered in Router() but missing from openapi.yaml:\n%s",
			formatRouteList(undocumented))
	}

	if len(stale) > 0 {
		t.Errorf("routes in openapi.yaml but not registered in Router():\n%s",
			formatRouteList(stale))
	}

	if len(undocumented) == 0 && len(stale) == 0 {
		t.Logf("openapi.yaml and router agree on %d routes", len(chiRoutes))
	}
}

func formatRouteList(routes []string) string {
	var b strings.Builder
	for _, r := range routes {
		fmt.Fprintf(&b, "  - %s\n", r)
	}
	return b.String()
}

// bodySchema is the JSON request body schema of one documented operation.
type bodySchema struct {
	Required   []string                  `yaml:"required"`
	Properties map[string]map[string]any `yaml:"properties"`
}

type sessionOpsDoc struct {
	Paths map[string]map[string]struct {
		RequestBody *struct {
			Required bool `yaml:"required"`
			Content  map[string]struct {
				Schema bodySchema `yaml:"schema"`
			} `yaml:"content"`
		} `yaml:"requestBody"`
	} `yaml:"paths"`
	Components struct {
		Schemas map[string]struct {
			Enum       []string                  `yaml:"enum"`
			Properties map[string]map[string]any `yaml:"properties"`
		} `yaml:"schemas"`
	} `yaml:"components"`
}

// jsonFields lists the JSON names of a struct's exported fields.
func jsonFields(v any) []string {
	t := reflect.TypeOf(v)
	var names []string
	for i := range t.NumField() {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// TestOpenAPISessionBodies checks that the documented /session request and
// response bodies match the types the handlers decode and encode.
func TestOpenAPISessionBodies(t *testing.T) {
	var doc sessionOpsDoc
	require.NoError(t, yaml.Unmarshal(openapiSpec, &doc))

	body := func(path string) (bool, bodySchema) {
		t.Helper()
		op, ok := doc.Paths[path]["post"]
		require.True(t, ok, "POST %s not documented", path)
		require.NotNil(t, op.RequestBody, "POST %s has no request body", path)
		content, ok := op.RequestBody.Content["application/json"]
		require.True(t, ok, "POST %s body is not JSON", path)
		return op.RequestBody.Required, content.Schema
	}

	required, logout := body("/session/logout")
	assert.False(t, required, "logout body is optional")
	assert.Equal(t, jsonFields(LogoutRequest{}), keys(logout.Properties))

	required, visibility := body("/session/visibility")
	assert.True(t, required)
	assert.Equal(t, jsonFields(VisibilityRequest{}), keys(visibility.Properties))
	assert.Equal(t, []string{"visible"}, visibility.Required)

	for _, path := range []string{"/session/activity", "/session/continue"} {
		assert.Nil(t, doc.Paths[path]["post"].RequestBody, "POST %s takes no body", path)
	}

	causes := doc.Components.Schemas["LogoutType"].Enum
	assert.ElementsMatch(t, []string{
		session.LogoutButton.String(),
		session.LogoutInactivity.String(),
		session.LogoutLostToken.String(),
	}, causes)
	for _, c := range causes {
		_, err := session.ParseLogoutType(c)
		assert.NoError(t, err, c)
	}

	resp := doc.Components.Schemas["SessionResponse"].Properties
	assert.Equal(t, jsonFields(SessionResponse{}), keys(resp))
	for name, typ := range map[string]any{"state": session.State{}, "modal": session.ModalProps{}} {
		props, ok := resp[name]["properties"].(map[string]any)
		require.True(t, ok, "SessionResponse.%s has no properties", name)
		assert.Equal(t, jsonFields(typ), keys(props), "SessionResponse.%s", name)
	}
}
