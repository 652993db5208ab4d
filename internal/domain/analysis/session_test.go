package analysis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStatusNeverRegresses(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewSession("s-1", "B0FB7FQWJL", now)

	require.NoError(t, s.Transition(StatusRunning, now))
	require.NoError(t, s.Transition(StatusRunning, now), "running may be re-entered")
	require.ErrorIs(t, s.Transition(StatusStarted, now), ErrInvalidTransition)

	done := now.Add(time.Minute)
	require.NoError(t, s.Transition(StatusCompleted, done))
	require.NotNil(t, s.CompletedAt)
	assert.Equal(t, done, *s.CompletedAt)

	require.ErrorIs(t, s.Transition(StatusFailed, done.Add(time.Second)), ErrSessionTerminal)
	require.ErrorIs(t, s.Transition(StatusCompleted, done.Add(time.Second)), ErrSessionTerminal)
	assert.Equal(t, done, *s.CompletedAt, "completed_at is set once")
}

func TestSessionFailRecordsStageAndError(t *testing.T) {
	now := time.Now()
	s := NewSession("s-2", "https://www.amazon.com/dp/B000000000", now)
	require.NoError(t, s.Transition(StatusRunning, now))
	s.CurrentStage = StageCollection

	require.NoError(t, s.Fail(StageCollection, "product not found", now))
	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, StageCollection, s.FailedStage)
	assert.Equal(t, "product not found", s.Error)
	assert.Empty(t, s.CurrentStage)
	assert.NotNil(t, s.CompletedAt)
}

func TestRecordStageIsWriteOnce(t *testing.T) {
	now := time.Now()
	s := NewSession("s-3", "B0FB7FQWJL", now)

	out := StageOutput{Status: StageSucceeded, Payload: json.RawMessage(`{"a":1}`), FinishedAt: now}
	require.NoError(t, s.RecordStage(StageCollection, out))
	require.ErrorIs(t, s.RecordStage(StageCollection, out), ErrStageAlreadyRecorded)

	got, ok, err := s.Output(StageCollection)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Succeeded())
	assert.JSONEq(t, `{"a":1}`, string(got.Payload))

	_, ok, err = s.Output(StageAnalysis)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordStageRejectedAfterTerminal(t *testing.T) {
	now := time.Now()
	s := NewSession("s-4", "B0FB7FQWJL", now)
	require.NoError(t, s.Complete(map[string]string{"ok": "yes"}, now))
	require.ErrorIs(t, s.RecordStage(StageAnalysis, StageOutput{Status: StageSucceeded}), ErrSessionTerminal)
}

func TestCloneDoesNotShareBuffers(t *testing.T) {
	now := time.Now()
	s := NewSession("s-5", "B0FB7FQWJL", now)
	require.NoError(t, s.RecordStage(StageCollection, StageOutput{Status: StageSucceeded, FinishedAt: now}))

	cp := s.Clone()
	cp.StageOutputs[0] = 'X'
	assert.NotEqual(t, cp.StageOutputs[0], s.StageOutputs[0])
}

func TestNewProgressEventValidates(t *testing.T) {
	now := time.Now()
	_, err := NewProgressEvent("s", EventSpec{StageName: StageCollection, Status: EventWorking, Fraction: 1.2, Message: "x"}, now)
	require.ErrorIs(t, err, ErrInvalidEvent)

	_, err = NewProgressEvent("s", EventSpec{StageName: StageCollection, Status: "weird", Fraction: 0.1, Message: "x"}, now)
	require.ErrorIs(t, err, ErrInvalidEvent)

	_, err = NewProgressEvent("", EventSpec{StageName: StageCollection, Status: EventWorking, Message: "x"}, now)
	require.ErrorIs(t, err, ErrInvalidEvent)

	ev, err := NewProgressEvent("s", EventSpec{
		Type:      EventAnalysisComplete,
		StageName: StageSupervisor,
		Status:    EventCompleted,
		Fraction:  1,
		Message:   "done",
		Result:    map[string]int{"n": 1},
	}, now)
	require.NoError(t, err)
	assert.Equal(t, EventAnalysisComplete, ev.Type)
	assert.JSONEq(t, `{"n":1}`, string(ev.Result))
}

func TestProductRecordRoundTripKeepsCollections(t *testing.T) {
	price := 19.99
	p := Product{
		ASIN:     "B0FB7FQWJL",
		URL:      "https://www.amazon.com/dp/B0FB7FQWJL",
		Title:    "Steel Water Bottle",
		Price:    &price,
		Features: []string{"keeps drinks cold for 24 hours"},
		Specs:    map[string]string{"Capacity": "750 ml"},
	}
	rec := NewProductRecord("s-6", p)
	back := rec.Product()
	assert.Equal(t, p.Features, back.Features)
	assert.Equal(t, p.Specs, back.Specs)
	assert.Equal(t, 19.99, *back.Price)
	assert.True(t, rec.ScrapeSuccess)
}
