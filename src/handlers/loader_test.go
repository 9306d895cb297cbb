package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/flurs/keyserver/src/models"
)

func loaderRouter(env *testEnv) *gin.Engine {
	router := gin.New()
	lh := NewLoaderHandler(env.delivery)
	router.GET("/loader/:file", lh.HandleLoader)
	return router
}

func TestHandleLoader_StubWithoutKey(t *testing.T) {
	env := newTestEnv(t)
	env.addPayload(t, testScriptHash, []byte("x"))
	router := loaderRouter(env)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/loader/"+testScriptHash+".lua", nil)
	router.ServeHTTP(w, req)

	assertStatusCode(t, w, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("expected text/plain, got %s", ct)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("expected no-store, got %s", cc)
	}
	body := w.Body.String()
	if !strings.Contains(body, "script_key") {
		t.Errorf("stub must reference the key variable, got:\n%s", body)
	}
	if !strings.Contains(body, testScriptHash) {
		t.Errorf("stub must call back for its own hash")
	}
}

func TestHandleLoader_WrapperWithKey(t *testing.T) {
	env := newTestEnv(t)
	env.addPayload(t, testScriptHash, []byte(`print("wrapped")`))
	env.addKey(t, &models.AccessKey{KeyValue: "FLURS-AAAA-BBBB-CCCC-DDDD"})
	router := loaderRouter(env)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/loader/"+testScriptHash+".lua?key=FLURS-AAAA-BBBB-CCCC-DDDD&hwid=h1", nil)
	router.ServeHTTP(w, req)

	assertStatusCode(t, w, http.StatusOK)
	body := w.Body.String()
	if strings.Contains(body, "wrapped") {
		t.Error("plaintext must not appear in the served wrapper")
	}
	if !strings.Contains(body, "1664525") {
		t.Error("wrapper must carry the decode loop")
	}
}

func TestHandleLoader_FreshWrapperPerRequest(t *testing.T) {
	env := newTestEnv(t)
	env.addPayload(t, testScriptHash, []byte("return 1"))
	env.addKey(t, &models.AccessKey{KeyValue: "FLURS-AAAA-BBBB-CCCC-DDDD"})
	router := loaderRouter(env)

	bodies := make([]string, 2)
	for i := range bodies {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet,
			"/loader/"+testScriptHash+".lua?key=FLURS-AAAA-BBBB-CCCC-DDDD&hwid=h1", nil)
		router.ServeHTTP(w, req)
		assertStatusCode(t, w, http.StatusOK)
		bodies[i] = w.Body.String()
	}
	if bodies[0] == bodies[1] {
		t.Error("two serves of the same payload must not be byte-identical")
	}
}

func TestHandleLoader_DenialIsLua(t *testing.T) {
	env := newTestEnv(t)
	env.addPayload(t, testScriptHash, []byte("x"))
	env.addKey(t, &models.AccessKey{KeyValue: "FLURS-DEAD-DEAD-DEAD-DEAD", Blacklisted: true})
	router := loaderRouter(env)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/loader/"+testScriptHash+".lua?key=FLURS-DEAD-DEAD-DEAD-DEAD&hwid=h1", nil)
	router.ServeHTTP(w, req)

	assertStatusCode(t, w, http.StatusForbidden)
	if !strings.HasPrefix(w.Body.String(), "error(") {
		t.Errorf("denial must be a Lua error chunk, got %q", w.Body.String())
	}
}

func TestHandleLoader_UnknownHash(t *testing.T) {
	env := newTestEnv(t)
	router := loaderRouter(env)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/loader/ffffffffffffffffffffffffffffffff.lua", nil)
	router.ServeHTTP(w, req)

	assertStatusCode(t, w, http.StatusNotFound)
}

func TestHandleLoader_MissingLuaSuffix(t *testing.T) {
	env := newTestEnv(t)
	router := loaderRouter(env)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/loader/"+testScriptHash, nil)
	router.ServeHTTP(w, req)

	assertStatusCode(t, w, http.StatusNotFound)
}
