package api

import (
	"crypto/ed25519"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/stratushq/entitlements/internal/config"
	"github.com/stratushq/entitlements/internal/feed"
	"github.com/stratushq/entitlements/internal/journal"
	"github.com/stratushq/entitlements/internal/logging"
	"github.com/stratushq/entitlements/internal/metrics"
	"github.com/stratushq/entitlements/pkg/entitlement"
	"github.com/stratushq/entitlements/pkg/reporting"
	"github.com/stratushq/entitlements/pkg/timeutil"
)

const maxSnapshotBody = 1 << 20 // 1MB

// Handlers carries the dependencies the API endpoints need.
type Handlers struct {
	config    *config.Config
	resolver  *entitlement.Resolver
	journal   *journal.Journal
	hub       *feed.Hub
	verifyKey ed25519.PublicKey
	version   VersionInfo
	logger    zerolog.Logger
}

// NewHandlers wires endpoint dependencies. journal and hub may be nil;
// verifyKey may be nil when signed snapshots are not accepted.
func NewHandlers(cfg *config.Config, resolver *entitlement.Resolver, jrnl *journal.Journal, hub *feed.Hub, verifyKey ed25519.PublicKey, version VersionInfo) *Handlers {
	if resolver == nil {
		resolver = entitlement.NewResolver()
	}
	return &Handlers{
		config:    cfg,
		resolver:  resolver,
		journal:   jrnl,
		hub:       hub,
		verifyKey: verifyKey,
		version:   version,
		logger:    logging.NewLogger("api"),
	}
}

// TimeRemaining is the optional countdown block on a resolution.
type TimeRemaining struct {
	Unit  timeutil.Unit `json:"unit"`
	Value int64         `json:"value"`
}

// Resolution is the response body for a resolved snapshot.
type Resolution struct {
	State         entitlement.State       `json:"state"`
	Wire          entitlement.StateString `json:"wire"`
	ActualPlan    entitlement.PlanID      `json:"actualPlan"`
	EffectivePlan entitlement.PlanID      `json:"effectivePlan"`
	ProductName   string                  `json:"productName"`
	Paid          bool                    `json:"paid"`
	NextPaidTier  entitlement.PlanID      `json:"nextPaidTier"`
	TimeRemaining *TimeRemaining          `json:"timeRemaining,omitempty"`
	ResolvedAt    time.Time               `json:"resolvedAt"`
}

// NewResolution projects a resolved snapshot into the response shape.
func NewResolution(resolved entitlement.Resolved, unit timeutil.Unit, now time.Time) Resolution {
	sub := resolved.Subscription
	out := Resolution{
		State:         resolved.State,
		Wire:          resolved.State.WireString(),
		ActualPlan:    sub.Plan.Actual.ID,
		EffectivePlan: sub.Plan.Effective.ID,
		ProductName:   entitlement.ProductNameForState(resolved.State, sub.Plan.Actual.ID, sub.Plan.Effective.ID),
		Paid:          entitlement.IsPaid(sub),
		NextPaidTier:  entitlement.NextPaidPlan(sub),
		ResolvedAt:    now.UTC(),
	}
	if value, ok := timeutil.UntilAt(sub.Plan.Effective.ExpiresOn, unit, now); ok {
		out.TimeRemaining = &TimeRemaining{Unit: unit, Value: value}
	}
	return out
}

// HandleResolve derives the lifecycle state for a subscription snapshot.
// The body is either a JSON snapshot or, with Content-Type application/jwt,
// a snapshot token signed by the sync layer.
func (h *Handlers) HandleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use POST", nil)
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxSnapshotBody)
	defer body.Close()

	now := h.now()

	var sub entitlement.Subscription
	if isJWTRequest(r) {
		if h.verifyKey == nil {
			writeErrorResponse(w, http.StatusBadRequest, "snapshot_verification_disabled",
				"No snapshot verification key is configured", nil)
			return
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "invalid_body", "Unable to read request body", nil)
			return
		}
		sub, err = entitlement.VerifySnapshot(strings.TrimSpace(string(raw)), h.verifyKey, now)
		if err != nil {
			metrics.RecordSnapshotVerifyFailure()
			h.logger.Warn().Err(err).Msg("Rejected signed snapshot")
			writeErrorResponse(w, http.StatusUnauthorized, "invalid_snapshot_token",
				"Snapshot token verification failed", nil)
			return
		}
	} else {
		if err := json.NewDecoder(body).Decode(&sub); err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "invalid_snapshot",
				"Request body is not a valid subscription snapshot", map[string]string{"reason": err.Error()})
			return
		}
	}

	unit := timeutil.ParseUnit(r.URL.Query().Get("unit"))

	start := time.Now()
	resolved := h.resolver.Resolve(entitlement.Normalize(sub))
	elapsed := time.Since(start)

	resolution := NewResolution(resolved, unit, now)
	h.recordResolution(resolved, elapsed, now)

	writeJSONResponse(w, http.StatusOK, resolution)
}

// now returns the resolver's clock so resolution and countdown agree.
func (h *Handlers) now() time.Time {
	if h.resolver != nil && h.resolver.Now != nil {
		return h.resolver.Now()
	}
	return time.Now()
}

// recordResolution feeds metrics, the journal, and the live feed.
func (h *Handlers) recordResolution(resolved entitlement.Resolved, elapsed time.Duration, now time.Time) {
	sub := resolved.Subscription
	metrics.RecordResolution(string(resolved.State), elapsed)
	if entitlement.Compare(sub.Plan.Effective.ID, sub.Plan.Actual.ID) < 0 {
		metrics.RecordPlanDowngrade(string(sub.Plan.Actual.ID), string(sub.Plan.Effective.ID))
	}

	ev := journal.Event{
		ID:            ulid.Make().String(),
		At:            now.UTC(),
		State:         string(resolved.State),
		ActualPlan:    string(sub.Plan.Actual.ID),
		EffectivePlan: string(sub.Plan.Effective.ID),
		Duration:      elapsed,
	}
	h.journal.Record(ev)
	if h.hub != nil {
		h.hub.BroadcastResolution(ev)
	}
}

// HandlePlans lists the plan catalog, optionally narrowed by a glob filter
// on plan ids ("*", "community*", "te?ms").
func (h *Handlers) HandlePlans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET", nil)
		return
	}

	filter := strings.TrimSpace(r.URL.Query().Get("filter"))
	plans := entitlement.PlanTable()
	if filter != "" {
		plans = filterPlans(plans, filter)
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"plans": plans})
}

type planSide struct {
	ID    entitlement.PlanID `json:"id"`
	Rank  int                `json:"rank"`
	Known bool               `json:"known"`
	Paid  bool               `json:"paid"`
}

type compareResult struct {
	A       planSide           `json:"a"`
	B       planSide           `json:"b"`
	Compare int                `json:"compare"`
	Higher  entitlement.PlanID `json:"higher,omitempty"`
}

// HandlePlanCompare orders two plan ids by entitlement. Unknown ids are
// legal and rank below every known plan.
func (h *Handlers) HandlePlanCompare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET", nil)
		return
	}

	a := normalizePlanParam(r.URL.Query().Get("a"))
	b := normalizePlanParam(r.URL.Query().Get("b"))
	if a == "" || b == "" {
		writeErrorResponse(w, http.StatusBadRequest, "missing_plan",
			"Query parameters a and b are required", nil)
		return
	}

	result := compareResult{
		A:       describePlanSide(a),
		B:       describePlanSide(b),
		Compare: sign(entitlement.Compare(a, b)),
	}
	switch {
	case result.Compare > 0:
		result.Higher = a
	case result.Compare < 0:
		result.Higher = b
	}

	writeJSONResponse(w, http.StatusOK, result)
}

// HandleStates lists the lifecycle state table in precedence order.
func (h *Handlers) HandleStates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET", nil)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"states": entitlement.StateTable()})
}

// HandleHistory lists recorded resolution events, newest first.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET", nil)
		return
	}
	if h.journal == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "journal_disabled",
			"The resolution journal is not enabled", nil)
		return
	}

	filter := journal.Filter{State: strings.TrimSpace(r.URL.Query().Get("state"))}
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit < 1 {
			writeErrorResponse(w, http.StatusBadRequest, "invalid_limit",
				"limit must be a positive integer", nil)
			return
		}
		filter.Limit = limit
	}

	events, err := h.journal.List(filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list journal events")
		writeErrorResponse(w, http.StatusInternalServerError, "journal_error",
			"Unable to read the resolution journal", nil)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"events": events})
}

// HandleHistoryStats summarizes the resolution journal.
func (h *Handlers) HandleHistoryStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET", nil)
		return
	}
	if h.journal == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "journal_disabled",
			"The resolution journal is not enabled", nil)
		return
	}

	stats, err := h.journal.GetStats()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to compute journal stats")
		writeErrorResponse(w, http.StatusInternalServerError, "journal_error",
			"Unable to read the resolution journal", nil)
		return
	}

	writeJSONResponse(w, http.StatusOK, stats)
}

// HandleReport renders the plan catalog sheet as a PDF.
func (h *Handlers) HandleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET", nil)
		return
	}

	gen := reporting.NewPDFGenerator()
	data, err := gen.GenerateCatalog(reporting.CatalogData{
		GeneratedAt: time.Now(),
		Version:     h.version.Version,
		Plans:       entitlement.PlanTable(),
		States:      entitlement.StateTable(),
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to generate catalog PDF")
		writeErrorResponse(w, http.StatusInternalServerError, "report_error",
			"Unable to generate the catalog report", nil)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="stratus-plan-catalog.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Error().Err(err).Msg("Failed to write catalog PDF response")
	}
}

func isJWTRequest(r *http.Request) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/jwt"
}

func filterPlans(plans []entitlement.PlanInfo, pattern string) []entitlement.PlanInfo {
	out := make([]entitlement.PlanInfo, 0, len(plans))
	for _, p := range plans {
		if matchPlanPattern(pattern, p) {
			out = append(out, p)
		}
	}
	return out
}

// matchPlanPattern matches a glob pattern against a plan's id or its
// human-facing display name, case-insensitively.
func matchPlanPattern(pattern string, p entitlement.PlanInfo) bool {
	pattern = strings.ToLower(pattern)
	if wildcard.Match(pattern, strings.ToLower(string(p.ID))) {
		return true
	}
	return wildcard.Match(pattern, strings.ToLower(p.DisplayName))
}

func normalizePlanParam(raw string) entitlement.PlanID {
	return entitlement.PlanID(strings.ToLower(strings.TrimSpace(raw)))
}

func describePlanSide(id entitlement.PlanID) planSide {
	rank := entitlement.Rank(id)
	return planSide{
		ID:    id,
		Rank:  rank,
		Known: rank >= 0,
		Paid:  entitlement.IsPaidPlan(id),
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
