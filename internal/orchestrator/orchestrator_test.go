package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairo-hq/kairo/internal/model"
	"github.com/kairo-hq/kairo/internal/orchestrator"
	"github.com/kairo-hq/kairo/internal/reasoning"
	"github.com/kairo-hq/kairo/internal/storage"
	"github.com/kairo-hq/kairo/internal/testutil"
)

// completerFunc adapts a function to reasoning.Completer.
type completerFunc func(ctx context.Context, req reasoning.CompletionRequest) (string, error)

func (f completerFunc) Complete(ctx context.Context, req reasoning.CompletionRequest) (string, error) {
	return f(ctx, req)
}

func (completerFunc) Name() string { return "fake" }

func reply(text string) completerFunc {
	return func(context.Context, reasoning.CompletionRequest) (string, error) { return text, nil }
}

// brokenTuning fails every read.
type brokenTuning struct{ storage.TuningStore }

func (brokenTuning) ReadTuning(context.Context) (model.TuningConfig, error) {
	return model.TuningConfig{}, errors.New("disk on fire")
}

// brokenAudit fails reads and/or appends while delegating the rest.
type brokenAudit struct {
	storage.AuditLog
	failList   bool
	failAppend bool
}

func (b brokenAudit) ListRecent(ctx context.Context, limit int) ([]model.DecisionRecord, error) {
	if b.failList {
		return nil, errors.New("history offline")
	}
	return b.AuditLog.ListRecent(ctx, limit)
}

func (b brokenAudit) Append(ctx context.Context, rec model.DecisionRecord) (string, error) {
	if b.failAppend {
		return "", errors.New("read-only filesystem")
	}
	return b.AuditLog.Append(ctx, rec)
}

func request(mode model.Mode) model.DecisionRequest {
	return model.DecisionRequest{
		Module:  "checkout",
		Metrics: json.RawMessage(`{"error_rate":0.12}`),
		Context: "errors after deploy",
		AvailablePlaybooks: []model.Playbook{
			{ID: "pb-rollback", Title: "Roll back last deploy"},
		},
		Mode: mode,
	}
}

func newOrchestrator(t *testing.T, audit storage.AuditLog, tuning storage.TuningStore, c reasoning.Completer, timeout time.Duration) *orchestrator.Orchestrator {
	t.Helper()
	client := reasoning.NewClient(c, timeout, 0, testutil.TestLogger())
	return orchestrator.New(audit, tuning, client, orchestrator.WithLogger(testutil.TestLogger()))
}

func countRecords(t *testing.T, audit storage.AuditLog) int {
	t.Helper()
	recs, err := audit.ListRecent(context.Background(), storage.MaxListLimit)
	require.NoError(t, err)
	return len(recs)
}

func TestDecide_AutoHighConfidenceExecutes(t *testing.T) {
	db := testutil.NewSQLite(t)
	o := newOrchestrator(t, db, db, reply(`Here is my answer: {"recommendation":"Yes","playbookId":"pb-rollback","reason":"regression","confidence":0.9,"urgency":"High"}`), time.Second)

	got, err := o.Decide(context.Background(), request(model.ModeAuto))
	require.NoError(t, err)
	assert.True(t, got.ShouldExecute)
	assert.Equal(t, 0.85, got.AppliedThreshold)
	assert.Equal(t, model.RecommendYes, got.Recommendation)
	assert.NotEmpty(t, got.DecisionID)
	assert.Equal(t, "fake", got.Processing.Provider)
	assert.InDelta(t, model.DefaultAggressiveness*0.3, got.Processing.Temperature, 1e-9)

	recs, err := db.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	r := recs[0]
	assert.Equal(t, got.DecisionID, r.ID)
	assert.Equal(t, model.ActionPlaybookRecommendation, r.ActionType)
	assert.Equal(t, model.ActorSystem, r.Actor)
	assert.Equal(t, model.OutcomePending, r.Outcome)
	assert.InDelta(t, 0.9, r.Confidence, 1e-9)
	require.NotNil(t, r.PlaybookID)
	assert.Equal(t, "pb-rollback", *r.PlaybookID)
	assert.Nil(t, r.Impact)
	assert.Equal(t, "checkout", r.Context["module"])
	assert.Equal(t, "auto", r.Context["mode"])
	assert.Equal(t, true, r.Context["should_execute"])
	assert.Equal(t, 0.85, r.Context["applied_threshold"])
	assert.Equal(t, map[string]any{"error_rate": 0.12}, r.Context["metrics"])
}

func TestDecide_TimestampMatchesStoredRecord(t *testing.T) {
	db := testutil.NewSQLite(t)
	clock := time.Date(2026, 7, 9, 8, 30, 15, 123456789, time.UTC)
	client := reasoning.NewClient(reply(`{"recommendation":"No","confidence":0.4}`), time.Second, 0, testutil.TestLogger())
	o := orchestrator.New(db, db, client,
		orchestrator.WithLogger(testutil.TestLogger()),
		orchestrator.WithClock(func() time.Time { return clock }))

	got, err := o.Decide(context.Background(), request(model.ModeManual))
	require.NoError(t, err)
	assert.Equal(t, clock.Truncate(time.Microsecond), got.Timestamp)

	recs, err := db.ListRecent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, got.DecisionID, recs[0].ID)
	assert.Equal(t, got.Timestamp, recs[0].Timestamp)
}

func TestDecide_AutoLowConfidenceHolds(t *testing.T) {
	db := testutil.NewSQLite(t)
	o := newOrchestrator(t, db, db, reply(`{"recommendation":"Yes","confidence":0.8}`), time.Second)

	got, err := o.Decide(context.Background(), request(model.ModeAuto))
	require.NoError(t, err)
	assert.False(t, got.ShouldExecute)
	assert.Equal(t, 0.85, got.AppliedThreshold)
	assert.Equal(t, 1, countRecords(t, db), "held decisions are still recorded")
}

func TestDecide_ManualUsesStricterThreshold(t *testing.T) {
	db := testutil.NewSQLite(t)
	o := newOrchestrator(t, db, db, reply(`{"recommendation":"Yes","confidence":0.9}`), time.Second)

	got, err := o.Decide(context.Background(), request(model.ModeManual))
	require.NoError(t, err)
	assert.False(t, got.ShouldExecute)
	assert.Equal(t, 0.95, got.AppliedThreshold)

	req := request("")
	got, err = o.Decide(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.ModeManual, got.Mode, "empty mode defaults to manual")
}

func TestDecide_ReasoningTimeoutWritesNothing(t *testing.T) {
	db := testutil.NewSQLite(t)
	slow := completerFunc(func(ctx context.Context, _ reasoning.CompletionRequest) (string, error) {
		select {
		case <-time.After(2 * time.Second):
			return `{"recommendation":"Yes","confidence":0.99}`, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	o := newOrchestrator(t, db, db, slow, 30*time.Millisecond)

	_, err := o.Decide(context.Background(), request(model.ModeAuto))
	require.Error(t, err)
	assert.Equal(t, orchestrator.KindReasoningFailed, orchestrator.KindOf(err))
	assert.ErrorIs(t, err, reasoning.ErrReasoningFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var oe *orchestrator.Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, orchestrator.StageReasoned, oe.Stage)
	assert.Equal(t, 0, countRecords(t, db))
}

func TestDecide_MalformedResponseWritesNothing(t *testing.T) {
	db := testutil.NewSQLite(t)
	o := newOrchestrator(t, db, db, reply(`I think you should roll back.`), time.Second)

	_, err := o.Decide(context.Background(), request(model.ModeAuto))
	assert.Equal(t, orchestrator.KindReasoningFailed, orchestrator.KindOf(err))
	assert.ErrorIs(t, err, reasoning.ErrMalformedResponse)
	assert.Equal(t, 0, countRecords(t, db))
}

func TestDecide_UnreadableTuningUsesDefaults(t *testing.T) {
	db := testutil.NewSQLite(t)
	o := newOrchestrator(t, db, brokenTuning{db}, reply(`{"recommendation":"Yes","confidence":0.9}`), time.Second)

	got, err := o.Decide(context.Background(), request(model.ModeAuto))
	require.NoError(t, err)
	assert.False(t, got.Processing.ConfigLoaded)
	assert.True(t, got.Processing.HistoryLoaded)
	assert.Equal(t, model.DefaultConfidenceThreshold, got.Tuning.ConfidenceThreshold)
	assert.Equal(t, model.DefaultAggressiveness, got.Tuning.Aggressiveness)
	assert.Equal(t, model.DefaultSuccessRate, got.Tuning.SuccessRate)
	assert.True(t, got.ShouldExecute)
}

func TestDecide_MissingTuningUsesDefaults(t *testing.T) {
	db := testutil.NewSQLite(t)
	o := newOrchestrator(t, db, db, reply(`{"recommendation":"No","confidence":0.3}`), time.Second)

	got, err := o.Decide(context.Background(), request(model.ModeAuto))
	require.NoError(t, err)
	assert.False(t, got.Processing.ConfigLoaded)
	assert.Equal(t, model.DefaultTuning(), got.Tuning)
}

func TestDecide_StoredTuningDrivesTemperature(t *testing.T) {
	db := testutil.NewSQLite(t)
	cfg := model.TuningConfig{ConfidenceThreshold: 0.8, Aggressiveness: 0.5, SuccessRate: 0.9, LastTuned: time.Now()}
	require.NoError(t, db.WriteTuning(context.Background(), cfg))

	var seen reasoning.CompletionRequest
	c := completerFunc(func(_ context.Context, req reasoning.CompletionRequest) (string, error) {
		seen = req
		return `{"recommendation":"Yes","confidence":0.86}`, nil
	})
	o := newOrchestrator(t, db, db, c, time.Second)

	got, err := o.Decide(context.Background(), request(model.ModeAuto))
	require.NoError(t, err)
	assert.True(t, got.Processing.ConfigLoaded)
	assert.InDelta(t, 0.15, seen.Temperature, 1e-9)
	assert.Contains(t, seen.Prompt, "be more aggressive")
	assert.Equal(t, 0.8, got.Tuning.ConfidenceThreshold)
	assert.Equal(t, 0.85, got.AppliedThreshold, "the tuned threshold never changes the gate")
}

func TestDecide_HistoryFailureIsNonFatal(t *testing.T) {
	db := testutil.NewSQLite(t)
	o := newOrchestrator(t, brokenAudit{AuditLog: db, failList: true}, db, reply(`{"recommendation":"Yes","confidence":0.9}`), time.Second)

	got, err := o.Decide(context.Background(), request(model.ModeAuto))
	require.NoError(t, err)
	assert.False(t, got.Processing.HistoryLoaded)
	assert.Equal(t, 0, got.Processing.HistoryCount)
	assert.Equal(t, 1, countRecords(t, db))
}

func TestDecide_HistoryIsFedToPrompt(t *testing.T) {
	db := testutil.NewSQLite(t)
	var prompts []string
	c := completerFunc(func(_ context.Context, req reasoning.CompletionRequest) (string, error) {
		prompts = append(prompts, req.Prompt)
		return `{"recommendation":"No","playbookId":"pb-rollback","confidence":0.4}`, nil
	})
	o := newOrchestrator(t, db, db, c, time.Second)

	for range 7 {
		_, err := o.Decide(context.Background(), request(model.ModeAuto))
		require.NoError(t, err)
	}
	got, err := o.Decide(context.Background(), request(model.ModeAuto))
	require.NoError(t, err)
	assert.Equal(t, model.MaxHistoryLimit, got.Processing.HistoryCount)
	assert.Contains(t, prompts[len(prompts)-1], "playbook=pb-rollback")
}

func TestDecide_AuditFailureIsFatal(t *testing.T) {
	db := testutil.NewSQLite(t)
	o := newOrchestrator(t, brokenAudit{AuditLog: db, failAppend: true}, db, reply(`{"recommendation":"Yes","confidence":0.99}`), time.Second)

	got, err := o.Decide(context.Background(), request(model.ModeAuto))
	require.Error(t, err)
	assert.Equal(t, orchestrator.KindAuditWriteFailed, orchestrator.KindOf(err))
	assert.Contains(t, err.Error(), "read-only filesystem")
	assert.Equal(t, model.EnrichedDecision{}, got, "no partial success on audit failure")
}

func TestDecide_InvalidInput(t *testing.T) {
	db := testutil.NewSQLite(t)
	var calls atomic.Int32
	c := completerFunc(func(context.Context, reasoning.CompletionRequest) (string, error) {
		calls.Add(1)
		return `{"recommendation":"Yes","confidence":0.9}`, nil
	})
	o := newOrchestrator(t, db, db, c, time.Second)

	cases := map[string]model.DecisionRequest{
		"missing module": {Mode: model.ModeAuto},
		"bad mode":       {Module: "m", Mode: "sometimes"},
		"bad metrics":    {Module: "m", Mode: model.ModeAuto, Metrics: json.RawMessage(`{`)},
		"empty playbook": {Module: "m", Mode: model.ModeAuto, AvailablePlaybooks: []model.Playbook{{Title: "x"}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := o.Decide(context.Background(), req)
			assert.Equal(t, orchestrator.KindInvalidInput, orchestrator.KindOf(err))
		})
	}
	assert.Zero(t, calls.Load(), "invalid requests never reach the provider")
}

func TestDecide_OutOfRangeConfidence(t *testing.T) {
	db := testutil.NewSQLite(t)
	o := newOrchestrator(t, db, db, reply(`{"recommendation":"Yes","confidence":1.4}`), time.Second)

	got, err := o.Decide(context.Background(), request(model.ModeManual))
	require.NoError(t, err)
	assert.True(t, got.ShouldExecute)
	assert.InDelta(t, 1.4, got.Confidence, 1e-9)

	recs, err := db.ListRecent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 1.0, recs[0].Confidence)
	assert.Equal(t, 1.4, recs[0].Context["reported_confidence"])
}

func TestDecide_ConcurrentCallsAreIndependent(t *testing.T) {
	db := testutil.NewSQLite(t)
	o := newOrchestrator(t, db, db, reply(`{"recommendation":"Yes","confidence":0.9}`), time.Second)

	const n = 12
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := o.Decide(context.Background(), request(model.ModeAuto))
			if assert.NoError(t, err) {
				ids <- got.DecisionID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, countRecords(t, db))
}

func TestKindFatal(t *testing.T) {
	assert.False(t, orchestrator.KindConfigInvalid.Fatal())
	assert.False(t, orchestrator.KindHistoryUnavailable.Fatal())
	assert.True(t, orchestrator.KindReasoningFailed.Fatal())
	assert.True(t, orchestrator.KindAuditWriteFailed.Fatal())
	assert.Equal(t, orchestrator.Kind(""), orchestrator.KindOf(errors.New("plain")))
}
