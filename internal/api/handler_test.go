package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/developingchet/rtledger/internal/access"
	"github.com/developingchet/rtledger/internal/auth"
	"github.com/developingchet/rtledger/internal/ratelimit"
	"github.com/developingchet/rtledger/internal/storage"
	"github.com/developingchet/rtledger/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testPassword = "correct horse battery"
)

var (
	hashOnce sync.Once
	testHash string
)

func passwordHash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		h, err := auth.HashPassword(testPassword)
		if err != nil {
			panic(err)
		}
		testHash = h
	})
	return testHash
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []storage.AuditEvent
}

func (a *recordingAuditor) Record(ev storage.AuditEvent) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return true
}

func (a *recordingAuditor) find(action string, allowed bool) []storage.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []storage.AuditEvent
	for _, ev := range a.events {
		if ev.Action == action && ev.Allowed == allowed {
			out = append(out, ev)
		}
	}
	return out
}

type testEnv struct {
	t       *testing.T
	store   *testutil.MockStore
	clock   *clock
	audit   *recordingAuditor
	issuer  *auth.Issuer
	handler http.Handler
	tokens  map[string]string
}

func defaultOptions() Options {
	return Options{
		AuthPolicy:        ratelimit.AuthPolicy,
		APIPolicy:         ratelimit.APIPolicy,
		TrustProxyHeaders: true,
		UseRemoteAddr:     true,
	}
}

// newTestEnv seeds four principals:
// admin (ADMIN), alice (OPERATOR, group red), carol (OPERATOR, no groups), bob (VIEWER, group red).
func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	store := testutil.NewMockStore()
	clk := &clock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	issuer, err := auth.NewIssuer(testSecret, time.Hour, clk.Now)
	require.NoError(t, err)

	hash := passwordHash(t)
	for _, p := range []storage.PrincipalRecord{
		{ID: "admin", Username: "admin", Role: access.RoleAdmin},
		{ID: "alice", Username: "alice", Role: access.RoleOperator},
		{ID: "carol", Username: "carol", Role: access.RoleOperator},
		{ID: "bob", Username: "bob", Role: access.RoleViewer},
	} {
		p.PasswordHash = hash
		require.NoError(t, store.PutPrincipal(p))
	}
	require.NoError(t, store.PutGroup(storage.GroupRecord{ID: "red", Name: "red team"}))
	require.NoError(t, store.AddGroupMember("red", "alice"))
	require.NoError(t, store.AddGroupMember("red", "bob"))

	audit := &recordingAuditor{}
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), clk.Now, zerolog.Nop())
	h := New(store, access.NewService(zerolog.Nop()), limiter, issuer, audit, opts, zerolog.Nop())
	h.now = clk.Now

	env := &testEnv{
		t:       t,
		store:   store,
		clock:   clk,
		audit:   audit,
		issuer:  issuer,
		handler: h.Routes(),
		tokens:  map[string]string{},
	}
	for _, id := range []string{"admin", "alice", "carol", "bob"} {
		tok, _, err := issuer.Issue(id)
		require.NoError(t, err)
		env.tokens[id] = tok
	}
	return env
}

// seedOperations creates one public operation owned by alice, one red-only operation
// owned by alice and one red-only operation owned by carol.
func (e *testEnv) seedOperations() {
	base := e.clock.Now()
	ops := []storage.OperationRecord{
		{ID: "public", Name: "Public", OwnerID: "alice", Visibility: access.VisibilityEveryone, CreatedAt: base},
		{ID: "red-op", Name: "Red", OwnerID: "alice", Visibility: access.VisibilityGroupsOnly,
			AccessGroupIDs: []string{"red"}, CreatedAt: base.Add(time.Minute)},
		{ID: "carol-op", Name: "Carol", OwnerID: "carol", Visibility: access.VisibilityGroupsOnly,
			AccessGroupIDs: []string{"red"}, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, op := range ops {
		require.NoError(e.t, e.store.PutOperation(op))
	}
}

func (e *testEnv) do(method, path, as string, body interface{}) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[as])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func listIDs(t *testing.T, rec *httptest.ResponseRecorder) []string {
	t.Helper()
	var body operationList
	decodeBody(t, rec, &body)
	ids := make([]string, 0, len(body.Operations))
	for _, op := range body.Operations {
		ids = append(ids, op.ID)
	}
	assert.Equal(t, len(ids), body.Count)
	return ids
}

// ---- auth -----------------------------------------------------------------

func TestIssueToken_Success(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	rec := env.do(http.MethodPost, "/api/auth/token", "", tokenRequest{Username: "Alice", Password: testPassword})
	require.Equal(t, http.StatusOK, rec.Code)

	var body tokenResponse
	decodeBody(t, rec, &body)
	sub, err := env.issuer.Verify(body.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)
	assert.Len(t, env.audit.find("auth.login", true), 1)
}

func TestIssueToken_Rejections(t *testing.T) {
	env := newTestEnv(t, defaultOptions())

	rec := env.do(http.MethodPost, "/api/auth/token", "", tokenRequest{Username: "alice", Password: "wrong password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/api/auth/token", "", tokenRequest{Username: "nobody", Password: testPassword})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/api/auth/token", "", map[string]string{"username": "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Len(t, env.audit.find("auth.login", false), 2)
}

func TestIssueToken_StoreError(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	env.store.SetError("GetPrincipalByUsername", errors.New("db closed"))
	rec := env.do(http.MethodPost, "/api/auth/token", "", tokenRequest{Username: "alice", Password: testPassword})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t, defaultOptions())

	rec := env.do(http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Token outlives its TTL.
	env.clock.Advance(2 * time.Hour)
	rec = env.do(http.MethodGet, "/api/me", "alice", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticate_UnknownPrincipal(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	tok, _, err := env.issuer.Issue("ghost")
	require.NoError(t, err)
	env.tokens["ghost"] = tok

	rec := env.do(http.MethodGet, "/api/me", "ghost", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMe(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	rec := env.do(http.MethodGet, "/api/me", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body principalResponse
	decodeBody(t, rec, &body)
	assert.Equal(t, "bob", body.ID)
	assert.Equal(t, access.RoleViewer, body.Role)
	assert.Equal(t, []string{"red"}, body.Groups)
}

// ---- operations -----------------------------------------------------------

func TestListOperations_FilteredPerPrincipal(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	env.seedOperations()

	cases := []struct {
		as   string
		want []string
	}{
		{"admin", []string{"carol-op", "red-op", "public"}},
		{"alice", []string{"carol-op", "red-op", "public"}},
		{"bob", []string{"carol-op", "red-op", "public"}},
		{"carol", []string{"public"}},
	}
	for _, c := range cases {
		t.Run(c.as, func(t *testing.T) {
			rec := env.do(http.MethodGet, "/api/operations", c.as, nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, c.want, listIDs(t, rec))
		})
	}
}

func TestListOperations_MatchesCheckAccess(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	env.seedOperations()

	for _, as := range []string{"admin", "alice", "bob", "carol"} {
		rec := env.do(http.MethodGet, "/api/operations", as, nil)
		listed := map[string]bool{}
		for _, id := range listIDs(t, rec) {
			listed[id] = true
		}
		for _, id := range []string{"public", "red-op", "carol-op"} {
			got := env.do(http.MethodGet, "/api/operations/"+id, as, nil)
			assert.Equal(t, listed[id], got.Code == http.StatusOK, "principal %s operation %s", as, id)
		}
	}
}

func TestListOperations_StoreError(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	env.store.SetError("ListOperations", errors.New("boom"))
	rec := env.do(http.MethodGet, "/api/operations", "admin", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body errorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, http.StatusInternalServerError, body.Code)
	assert.Equal(t, "internal error", body.Message)
}

func TestCreateOperation(t *testing.T) {
	env := newTestEnv(t, defaultOptions())

	rec := env.do(http.MethodPost, "/api/operations", "bob", createOperationRequest{Name: "nope"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Len(t, env.audit.find("operation.create", false), 1)

	rec = env.do(http.MethodPost, "/api/operations", "alice", createOperationRequest{
		Name:         "Phishing wave",
		Visibility:   "GROUPS_ONLY",
		AccessGroups: []string{"red", "red", " "},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var op operationJSON
	decodeBody(t, rec, &op)
	assert.Equal(t, "alice", op.OwnerID)
	assert.Equal(t, access.VisibilityGroupsOnly, op.Visibility)
	assert.Equal(t, []string{"red"}, op.AccessGroups)

	stored, _, err := env.store.GetOperation(op.ID)
	require.NoError(t, err)
	assert.Equal(t, "Phishing wave", stored.Name)
}

func TestCreateOperation_Validation(t *testing.T) {
	env := newTestEnv(t, defaultOptions())

	rec := env.do(http.MethodPost, "/api/operations", "alice", createOperationRequest{Name: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/operations", "alice", createOperationRequest{Name: "x", Visibility: "PRIVATE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/operations", "alice", createOperationRequest{Name: "x", AccessGroups: []string{"blue"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/api/operations", "alice", map[string]string{"name": "x", "bogus": "y"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOperation(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	env.seedOperations()

	rec := env.do(http.MethodGet, "/api/operations/missing", "admin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/api/operations/red-op", "carol", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	denied := env.audit.find("operation.view", false)
	require.Len(t, denied, 1)
	assert.Equal(t, "carol", denied[0].PrincipalID)
	assert.Equal(t, "red-op", denied[0].OperationID)

	rec = env.do(http.MethodGet, "/api/operations/red-op", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var op operationJSON
	decodeBody(t, rec, &op)
	assert.Equal(t, "red-op", op.ID)
}

func TestUpdateOperation(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	env.seedOperations()

	name := "Renamed"
	// Owner operator in the group.
	rec := env.do(http.MethodPatch, "/api/operations/red-op", "alice", updateOperationRequest{Name: &name})
	require.Equal(t, http.StatusOK, rec.Code)

	// Non-owner operator in the group.
	rec = env.do(http.MethodPatch, "/api/operations/carol-op", "alice", updateOperationRequest{Name: &name})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Owner outside the group is stopped by the visibility gate.
	rec = env.do(http.MethodPatch, "/api/operations/carol-op", "carol", updateOperationRequest{Name: &name})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Viewer never modifies.
	rec = env.do(http.MethodPatch, "/api/operations/public", "bob", updateOperationRequest{Name: &name})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Admin may change visibility.
	vis := "EVERYONE"
	rec = env.do(http.MethodPatch, "/api/operations/carol-op", "admin", updateOperationRequest{Visibility: &vis})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodGet, "/api/operations/carol-op", "carol", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	bad := "SECRET"
	rec = env.do(http.MethodPatch, "/api/operations/public", "admin", updateOperationRequest{Visibility: &bad})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteOperation(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	env.seedOperations()

	rec := env.do(http.MethodDelete, "/api/operations/public", "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodDelete, "/api/operations/public", "alice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodDelete, "/api/operations/public", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Len(t, env.audit.find("operation.delete", true), 1)
}

func TestAddTechniqueAndAnalytics(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	env.seedOperations()

	rec := env.do(http.MethodPost, "/api/operations/red-op/techniques", "alice", techniqueRequest{
		TechniqueID: "t1059.001", Tactic: "Execution", Detected: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var tech techniqueJSON
	decodeBody(t, rec, &tech)
	assert.Equal(t, "T1059.001", tech.TechniqueID)
	assert.Equal(t, "execution", tech.Tactic)

	rec = env.do(http.MethodPost, "/api/operations/public/techniques", "alice", techniqueRequest{
		TechniqueID: "T1566", Tactic: "initial-access", Prevented: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(http.MethodPost, "/api/operations/public/techniques", "alice", techniqueRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Alice sees both techniques; carol only the public one.
	rec = env.do(http.MethodGet, "/api/analytics/scorecard", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sc struct {
		Techniques int `json:"techniques"`
		Detected   int `json:"detected"`
		Prevented  int `json:"prevented"`
	}
	decodeBody(t, rec, &sc)
	assert.Equal(t, 2, sc.Techniques)
	assert.Equal(t, 1, sc.Detected)

	rec = env.do(http.MethodGet, "/api/analytics/scorecard", "carol", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &sc)
	assert.Equal(t, 1, sc.Techniques)
	assert.Equal(t, 0, sc.Detected)
	assert.Equal(t, 1, sc.Prevented)

	rec = env.do(http.MethodGet, "/api/analytics/heatmap", "carol", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hm struct {
		Tactics []struct {
			Tactic string `json:"tactic"`
		} `json:"tactics"`
	}
	decodeBody(t, rec, &hm)
	require.Len(t, hm.Tactics, 1)
	assert.Equal(t, "initial-access", hm.Tactics[0].Tactic)
}

// ---- middleware -----------------------------------------------------------

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, defaultOptions())

	rec := env.do(http.MethodGet, "/api/me", "alice", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestNotFoundIsJSON(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	rec := env.do(http.MethodGet, "/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body errorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, http.StatusNotFound, body.Code)
}

func TestAuthRateLimit(t *testing.T) {
	env := newTestEnv(t, defaultOptions())

	login := func() *httptest.ResponseRecorder {
		return env.do(http.MethodPost, "/api/auth/token", "", tokenRequest{Username: "alice", Password: "wrong password"})
	}
	for i := 0; i < ratelimit.AuthPolicy.MaxRequests; i++ {
		rec := login()
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, strconv.Itoa(ratelimit.AuthPolicy.MaxRequests-i-1), rec.Header().Get("X-RateLimit-Remaining"))
	}

	rec := login()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.Itoa(int((15 * time.Minute).Seconds())), rec.Header().Get("Retry-After"))
	reset := env.clock.Now().Add(15 * time.Minute).Unix()
	assert.Equal(t, strconv.FormatInt(reset, 10), rec.Header().Get("X-RateLimit-Reset"))

	var body errorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, http.StatusTooManyRequests, body.Code)
	assert.Equal(t, "rate limit exceeded", body.Message)

	// A fresh window admits again.
	env.clock.Advance(15 * time.Minute)
	assert.Equal(t, http.StatusUnauthorized, login().Code)
}

func TestAuthLimitDoesNotThrottleAPI(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	for i := 0; i <= ratelimit.AuthPolicy.MaxRequests; i++ {
		env.do(http.MethodPost, "/api/auth/token", "", tokenRequest{Username: "x", Password: "y"})
	}
	rec := env.do(http.MethodGet, "/api/me", "alice", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRateLimitPerClient(t *testing.T) {
	opts := defaultOptions()
	opts.APIPolicy = ratelimit.Policy{Name: "api", Window: time.Minute, MaxRequests: 2}
	env := newTestEnv(t, opts)

	get := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.Header.Set("Authorization", "Bearer "+env.tokens["alice"])
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, get("203.0.113.7"))
	assert.Equal(t, http.StatusOK, get("203.0.113.7"))
	assert.Equal(t, http.StatusTooManyRequests, get("203.0.113.7"))
	assert.Equal(t, http.StatusOK, get("198.51.100.1"))
}

func TestUntrustedProxyHeadersIgnored(t *testing.T) {
	opts := defaultOptions()
	opts.TrustProxyHeaders = false
	opts.APIPolicy = ratelimit.Policy{Name: "api", Window: time.Minute, MaxRequests: 1}
	env := newTestEnv(t, opts)

	get := func(fwd string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.RemoteAddr = "192.0.2.10:5555"
		req.Header.Set("Authorization", "Bearer "+env.tokens["alice"])
		req.Header.Set("X-Forwarded-For", fwd)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, get("203.0.113.1"))
	// A spoofed header does not earn a fresh bucket.
	assert.Equal(t, http.StatusTooManyRequests, get("203.0.113.2"))
}

func TestAllowlistBypassesLimiter(t *testing.T) {
	_, nw, err := net.ParseCIDR("10.0.0.0/8")
	require.NoError(t, err)
	opts := defaultOptions()
	opts.Allowlist = []*net.IPNet{nw}
	opts.APIPolicy = ratelimit.Policy{Name: "api", Window: time.Minute, MaxRequests: 1}
	env := newTestEnv(t, opts)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.Header.Set("Authorization", "Bearer "+env.tokens["alice"])
		req.Header.Set("X-Real-IP", "10.1.2.3")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestUnknownClientsShareBucket(t *testing.T) {
	opts := defaultOptions()
	opts.UseRemoteAddr = false
	opts.APIPolicy = ratelimit.Policy{Name: "api", Window: time.Minute, MaxRequests: 1}
	env := newTestEnv(t, opts)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/me", "alice", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(http.MethodGet, "/api/me", "bob", nil).Code)
}
