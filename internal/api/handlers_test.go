package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratushq/entitlements/internal/config"
	"github.com/stratushq/entitlements/internal/journal"
	"github.com/stratushq/entitlements/pkg/entitlement"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func tp(t time.Time) *time.Time { return &t }

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.BackendHost = "127.0.0.1"
	return cfg
}

func testResolver() *entitlement.Resolver {
	return &entitlement.Resolver{Now: func() time.Time { return testNow }}
}

func newTestRouter(t *testing.T, cfg *config.Config, jrnl *journal.Journal, verifyKey ed25519.PublicKey) http.Handler {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	return NewRouter(cfg, testResolver(), jrnl, nil, verifyKey, VersionInfo{Version: "test"})
}

func openTestJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func trialSnapshot(expiresOn time.Time) entitlement.Subscription {
	actual := entitlement.PlanSnapshot{
		ID:        entitlement.PlanCommunityWithAccount,
		StartedOn: testNow.Add(-7 * 24 * time.Hour),
	}
	effective := entitlement.PlanSnapshot{
		ID:        entitlement.PlanPro,
		StartedOn: actual.StartedOn,
		ExpiresOn: tp(expiresOn),
	}
	return entitlement.Subscription{
		Account: &entitlement.Account{ID: "acct-1", Verified: true},
		Plan:    entitlement.PlanPair{Actual: actual, Effective: effective},
	}
}

func paidSnapshot(id entitlement.PlanID) entitlement.Subscription {
	plan := entitlement.PlanSnapshot{ID: id, StartedOn: testNow.Add(-30 * 24 * time.Hour)}
	return entitlement.Subscription{
		Account: &entitlement.Account{ID: "acct-1", Verified: true},
		Plan:    entitlement.PlanPair{Actual: plan, Effective: plan},
	}
}

func postResolve(t *testing.T, router http.Handler, target string, sub entitlement.Subscription) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(sub)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeResolution(t *testing.T, rec *httptest.ResponseRecorder) Resolution {
	t.Helper()
	var res Resolution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	return res
}

func TestHandleResolve_TrialSnapshot(t *testing.T) {
	router := newTestRouter(t, nil, nil, nil)

	rec := postResolve(t, router, "/api/resolve?unit=days", trialSnapshot(testNow.Add(72*time.Hour)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decodeResolution(t, rec)
	assert.Equal(t, entitlement.StateTrial, res.State)
	assert.Equal(t, entitlement.StateStringTrial, res.Wire)
	assert.Equal(t, entitlement.PlanCommunityWithAccount, res.ActualPlan)
	assert.Equal(t, entitlement.PlanPro, res.EffectivePlan)
	assert.Equal(t, "Stratus Pro Trial", res.ProductName)
	assert.False(t, res.Paid)
	assert.Equal(t, entitlement.PlanPro, res.NextPaidTier)
	require.NotNil(t, res.TimeRemaining)
	assert.Equal(t, int64(3), res.TimeRemaining.Value)
	assert.Equal(t, testNow, res.ResolvedAt)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestHandleResolve_PaidSnapshot(t *testing.T) {
	router := newTestRouter(t, nil, nil, nil)

	rec := postResolve(t, router, "/api/resolve", paidSnapshot(entitlement.PlanTeams))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decodeResolution(t, rec)
	assert.Equal(t, entitlement.StatePaid, res.State)
	assert.Equal(t, "Stratus Teams", res.ProductName)
	assert.True(t, res.Paid)
	assert.Equal(t, entitlement.PlanEnterprise, res.NextPaidTier)
	assert.Nil(t, res.TimeRemaining)
}

func TestHandleResolve_UppercasePlanIDsAreNormalized(t *testing.T) {
	router := newTestRouter(t, nil, nil, nil)

	sub := paidSnapshot("PRO")
	rec := postResolve(t, router, "/api/resolve", sub)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decodeResolution(t, rec)
	assert.Equal(t, entitlement.StatePaid, res.State)
	assert.Equal(t, entitlement.PlanPro, res.ActualPlan)
}

func TestHandleResolve_InvalidBody(t *testing.T) {
	router := newTestRouter(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/resolve", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, "invalid_snapshot", apiErr.Code)
}

func TestHandleResolve_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/resolve", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleResolve_SignedSnapshot(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	router := newTestRouter(t, nil, nil, pub)

	token, err := entitlement.SignSnapshot(priv, trialSnapshot(testNow.Add(48*time.Hour)), testNow, entitlement.DefaultSnapshotTokenTTL)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/resolve", strings.NewReader(token))
	req.Header.Set("Content-Type", "application/jwt")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeResolution(t, rec)
	assert.Equal(t, entitlement.StateTrial, res.State)
}

func TestHandleResolve_SignedSnapshotRejected(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, wrongPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	router := newTestRouter(t, nil, nil, pub)

	token, err := entitlement.SignSnapshot(wrongPriv, paidSnapshot(entitlement.PlanPro), testNow, entitlement.DefaultSnapshotTokenTTL)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/resolve", strings.NewReader(token))
	req.Header.Set("Content-Type", "application/jwt")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, "invalid_snapshot_token", apiErr.Code)
}

func TestHandleResolve_SignedSnapshotWithoutKey(t *testing.T) {
	router := newTestRouter(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/resolve", strings.NewReader("anything"))
	req.Header.Set("Content-Type", "application/jwt")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, "snapshot_verification_disabled", apiErr.Code)
}

func TestHandlePlans(t *testing.T) {
	router := newTestRouter(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/plans", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Plans []entitlement.PlanInfo `json:"plans"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Plans, 7)
	assert.Equal(t, entitlement.PlanCommunity, body.Plans[0].ID)
	assert.Equal(t, entitlement.PlanEnterprise, body.Plans[6].ID)
	assert.Equal(t, 6, body.Plans[6].Rank)
}

func TestHandlePlans_Filter(t *testing.T) {
	router := newTestRouter(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/plans?filter=community*", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Plans []entitlement.PlanInfo `json:"plans"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Plans, 2)
	assert.Equal(t, entitlement.PlanCommunity, body.Plans[0].ID)
	assert.Equal(t, entitlement.PlanCommunityWithAccount, body.Plans[1].ID)
}

func TestHandlePlanCompare(t *testing.T) {
	router := newTestRouter(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/plans/compare?a=pro&b=teams", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result compareResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, -1, result.Compare)
	assert.Equal(t, entitlement.PlanTeams, result.Higher)
	assert.True(t, result.A.Known)
	assert.True(t, result.A.Paid)
}

func TestHandlePlanCompare_UnknownPlanRanksBelow(t *testing.T) {
	router := newTestRouter(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/plans/compare?a=bogus&b=community", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result compareResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, -1, result.Compare)
	assert.Equal(t, entitlement.PlanCommunity, result.Higher)
	assert.False(t, result.A.Known)
	assert.Equal(t, -1, result.A.Rank)
}

func TestHandlePlanCompare_MissingParams(t *testing.T) {
	router := newTestRouter(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/plans/compare?a=pro", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStates(t *testing.T) {
	router := newTestRouter(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/states", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		States []entitlement.StateInfo `json:"states"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.States, 6)
	assert.Equal(t, entitlement.StateVerificationRequired, body.States[0].State)
	assert.Equal(t, entitlement.StateCommunity, body.States[5].State)
}

func TestHandleHistory(t *testing.T) {
	jrnl := openTestJournal(t)
	router := newTestRouter(t, nil, jrnl, nil)

	rec := postResolve(t, router, "/api/resolve", trialSnapshot(testNow.Add(48*time.Hour)))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = postResolve(t, router, "/api/resolve", paidSnapshot(entitlement.PlanPro))
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Events []journal.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 2)

	req = httptest.NewRequest(http.MethodGet, "/api/history?state=trial&limit=10", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body.Events = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Events, 1)
	assert.Equal(t, "trial", body.Events[0].State)
	assert.Equal(t, "pro", body.Events[0].EffectivePlan)
}

func TestHandleHistory_InvalidLimit(t *testing.T) {
	jrnl := openTestJournal(t)
	router := newTestRouter(t, nil, jrnl, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/history?limit=zero", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHistory_JournalDisabled(t *testing.T) {
	router := newTestRouter(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	assert.Equal(t, "journal_disabled", apiErr.Code)
}

func TestHandleHistoryStats(t *testing.T) {
	jrnl := openTestJournal(t)
	router := newTestRouter(t, nil, jrnl, nil)

	rec := postResolve(t, router, "/api/resolve", paidSnapshot(entitlement.PlanPro))
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/history/stats", nil)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)

	require.Equal(t, http.StatusOK, rec2.Code)
	var stats journal.Stats
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalEvents)
	assert.Equal(t, int64(1), stats.EventsByState["paid"])
}

func TestHandleReport(t *testing.T) {
	router := newTestRouter(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/report", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")))
}

func TestHandleHealthz(t *testing.T) {
	router := newTestRouter(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHandleVersion(t *testing.T) {
	router := newTestRouter(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var info VersionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "test", info.Version)
	assert.Equal(t, "go", info.Runtime)
}

func TestCORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://ops.example.com"}
	router := newTestRouter(t, cfg, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/plans", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSUnknownOrigin(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"https://ops.example.com"}
	router := newTestRouter(t, cfg, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/plans", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSecurityHeaders(t *testing.T) {
	router := newTestRouter(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/plans", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
