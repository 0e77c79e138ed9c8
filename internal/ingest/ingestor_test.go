package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"dockwave-backend/internal/errs"
	"dockwave-backend/internal/geofence"
	"dockwave-backend/internal/memstore"
	"dockwave-backend/internal/models"
	"dockwave-backend/internal/reconciler"
	"dockwave-backend/internal/wavestore"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var yard = geofence.BaseFences{
	Dock:    geofence.Circle{CenterLat: 40.4168, CenterLon: -3.7038, RadiusM: 80},
	Parking: geofence.Circle{CenterLat: 40.4141, CenterLon: -3.7038, RadiusM: 60},
}

const t0 = int64(1_700_000_000_000)

type pipeline struct {
	ingestor *Ingestor
	rec      *reconciler.Reconciler
	waves    *wavestore.Service
	shift    models.Shift
}

func newPipeline(t *testing.T) pipeline {
	t.Helper()
	ctx := context.Background()
	waves := wavestore.NewService(memstore.NewWaveStore(), memstore.NewUserStore())
	shift, err := waves.CreateShift(ctx, wavestore.CreateShiftInput{BaseID: "mad-1", Day: "2026-10-19", Turn: models.ShiftTurnMorning})
	require.NoError(t, err)

	rec := reconciler.New(memstore.NewStatusStore(), nil, nil, waves, reconciler.Options{})
	t.Cleanup(func() { _ = rec.Stop(context.Background()) })

	provider := geofence.NewStaticProvider(map[string]geofence.BaseFences{"mad-1": yard})
	evaluator := geofence.NewEvaluator(provider, geofence.Tuning{ConfirmSamples: 3, MaxAccuracyM: 50, MaxSpeedMps: 60})
	return pipeline{ingestor: NewIngestor(waves, evaluator, rec), rec: rec, waves: waves, shift: shift}
}

func (p pipeline) dockSample(at int64) models.LocationSample {
	return models.LocationSample{DriverID: "drv-1", ShiftID: p.shift.ID, Latitude: yard.Dock.CenterLat, Longitude: yard.Dock.CenterLon, Timestamp: at}
}

func TestIngest_SustainedDockPresenceArrivesDriver(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	var results []reconciler.Result
	for i := int64(0); i < 6; i++ {
		res, err := p.ingestor.Ingest(ctx, p.dockSample(t0+i*5000))
		require.NoError(t, err)
		results = append(results, res...)
	}

	require.Len(t, results, 1, "one debounced crossing, one event")
	assert.True(t, results[0].Applied)
	assert.Equal(t, models.StateArrived, results[0].Status.State)

	locations := p.ingestor.Locations(p.shift.ID)
	require.Len(t, locations, 1)
	assert.Equal(t, t0+25000, locations[0].Timestamp)

	stats := p.ingestor.GetStats()
	assert.Equal(t, int64(6), stats.Received)
	assert.Equal(t, int64(1), stats.Events)
	assert.Equal(t, int64(1), stats.Applied)
}

func TestIngest_Rejections(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	bad := p.dockSample(t0)
	bad.Latitude = 120
	_, err := p.ingestor.Ingest(ctx, bad)
	assert.True(t, errs.Is(err, errs.KindInvalidArgument))

	missing := p.dockSample(t0)
	missing.ShiftID = "nope"
	_, err = p.ingestor.Ingest(ctx, missing)
	assert.True(t, errs.Is(err, errs.KindNotFound))

	require.NoError(t, p.waves.ArchiveShift(ctx, p.shift.ID))
	_, err = p.ingestor.Ingest(ctx, p.dockSample(t0))
	assert.True(t, errs.Is(err, errs.KindPreconditionFailed))

	assert.Equal(t, int64(3), p.ingestor.GetStats().Rejected)
	assert.Empty(t, p.ingestor.Locations(p.shift.ID))
}

func TestIngest_ForgetShift(t *testing.T) {
	p := newPipeline(t)
	_, err := p.ingestor.Ingest(context.Background(), p.dockSample(0))
	require.NoError(t, err)
	require.Len(t, p.ingestor.Locations(p.shift.ID), 1)

	p.ingestor.ForgetShift(p.shift.ID)
	assert.Empty(t, p.ingestor.Locations(p.shift.ID))
}

type fakeSQS struct {
	mu       sync.Mutex
	batches  [][]types.Message
	deleted  []string
	received chan struct{}
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.mu.Lock()
	if len(f.batches) > 0 {
		batch := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return &sqs.ReceiveMessageOutput{Messages: batch}, nil
	}
	f.mu.Unlock()

	select {
	case f.received <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func message(t *testing.T, handle string, body interface{}) types.Message {
	t.Helper()
	raw, ok := body.(string)
	if !ok {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		raw = string(b)
	}
	return types.Message{MessageId: aws.String("m-" + handle), ReceiptHandle: aws.String(handle), Body: aws.String(raw)}
}

func TestSQSConsumer_ConsumesAndDeletes(t *testing.T) {
	p := newPipeline(t)
	unknown := p.dockSample(t0)
	unknown.ShiftID = "nope"

	client := &fakeSQS{
		received: make(chan struct{}, 1),
		batches: [][]types.Message{{
			message(t, "ok-1", p.dockSample(t0)),
			message(t, "ok-2", p.dockSample(t0+5000)),
			message(t, "garbage", "{not json"),
			message(t, "refused", unknown),
			{MessageId: aws.String("m-empty"), ReceiptHandle: aws.String("empty")},
			message(t, "ok-3", p.dockSample(t0+10000)),
		}},
	}

	consumer := NewSQSConsumer(client, "https://sqs.eu-west-1.amazonaws.com/000000000000/locations", p.ingestor)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumer.Start(ctx)
		close(done)
	}()

	select {
	case <-client.received:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never drained the batch")
	}
	cancel()
	<-done

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.ElementsMatch(t, []string{"ok-1", "ok-2", "garbage", "refused", "empty", "ok-3"}, client.deleted)

	st, ok, err := p.rec.Status(context.Background(), models.StatusKey{DriverID: "drv-1", ShiftID: p.shift.ID})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StateArrived, st.State)
}

type failingSubmitter struct{}

func (failingSubmitter) Submit(ctx context.Context, ev models.Event) (reconciler.Result, error) {
	return reconciler.Result{}, errors.New("connection refused")
}

func TestSQSConsumer_InfrastructureFailuresAreRetried(t *testing.T) {
	p := newPipeline(t)
	provider := geofence.NewStaticProvider(map[string]geofence.BaseFences{"mad-1": yard})
	evaluator := geofence.NewEvaluator(provider, geofence.Tuning{ConfirmSamples: 1, MaxAccuracyM: 50, MaxSpeedMps: 60})
	consumer := NewSQSConsumer(&fakeSQS{}, "q", NewIngestor(p.waves, evaluator, failingSubmitter{}))

	body, err := json.Marshal(p.dockSample(t0))
	require.NoError(t, err)
	assert.Error(t, consumer.HandleMessage(context.Background(), string(body)))
}

// timeoutOnceSubmitter reports a persistence timeout for its first event and passes
// the rest through
type timeoutOnceSubmitter struct {
	next  Submitter
	mu    sync.Mutex
	calls int
}

func (s *timeoutOnceSubmitter) Submit(ctx context.Context, ev models.Event) (reconciler.Result, error) {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first {
		return reconciler.Result{Kind: errs.KindPersistenceTimeout, Reason: "state could not be saved in time, retry"}, nil
	}
	return s.next.Submit(ctx, ev)
}

func TestIngest_CrossingSurvivesPersistenceTimeout(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	submitter := &timeoutOnceSubmitter{next: p.rec}
	provider := geofence.NewStaticProvider(map[string]geofence.BaseFences{"mad-1": yard})
	evaluator := geofence.NewEvaluator(provider, geofence.Tuning{ConfirmSamples: 1, MaxAccuracyM: 50, MaxSpeedMps: 60})
	ingestor := NewIngestor(p.waves, evaluator, submitter)

	_, err := ingestor.Ingest(ctx, p.dockSample(t0))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindPersistenceTimeout))

	// The next sample inside the dock emits the crossing again
	results, err := ingestor.Ingest(ctx, p.dockSample(t0+5000))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Applied)

	st, ok, err := p.rec.Status(ctx, models.StatusKey{DriverID: "drv-1", ShiftID: p.shift.ID})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StateArrived, st.State)
	assert.Equal(t, 2, submitter.calls)
	assert.Equal(t, int64(1), ingestor.GetStats().Failed)
}

func TestSQSConsumer_TimedOutSampleIsRedeliveredAndApplied(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	provider := geofence.NewStaticProvider(map[string]geofence.BaseFences{"mad-1": yard})
	evaluator := geofence.NewEvaluator(provider, geofence.Tuning{ConfirmSamples: 1, MaxAccuracyM: 50, MaxSpeedMps: 60})
	consumer := NewSQSConsumer(&fakeSQS{}, "q", NewIngestor(p.waves, evaluator, &timeoutOnceSubmitter{next: p.rec}))

	body, err := json.Marshal(p.dockSample(t0))
	require.NoError(t, err)

	assert.Error(t, consumer.HandleMessage(ctx, string(body)), "kept on the queue")
	// Redelivery carries the same timestamp and must not be discarded as out of order
	require.NoError(t, consumer.HandleMessage(ctx, string(body)))

	st, ok, err := p.rec.Status(ctx, models.StatusKey{DriverID: "drv-1", ShiftID: p.shift.ID})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StateArrived, st.State)
	assert.Zero(t, evaluator.GetStats().DiscardedOutOfOrder)
}
