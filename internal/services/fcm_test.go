package services

import (
	"context"
	"errors"
	"testing"

	"dockwave-backend/internal/memstore"
	"dockwave-backend/internal/models"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []*messaging.MulticastMessage
	err  error
}

func (f *fakeSender) SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, message)
	return &messaging.BatchResponse{SuccessCount: len(message.Tokens)}, nil
}

func calledToDock(driverID string) models.DriverShiftStatus {
	st := models.NewDriverShiftStatus(driverID, "shift-1", 1)
	st.State = models.StateCalledToDock
	st.DockLabel = models.StringPtr("B1")
	st.RouteCode = models.StringPtr("R7")
	st.Version = 3
	return st
}

func TestBuildCallMessage(t *testing.T) {
	msg := BuildCallMessage([]string{"tok"}, calledToDock("drv-1"))
	require.NotNil(t, msg)
	assert.Equal(t, "call_to_dock", msg.Data["type"])
	assert.Equal(t, "B1", msg.Data["dock_label"])
	assert.Equal(t, "R7", msg.Data["route_code"])
	assert.Equal(t, "3", msg.Data["version"])
	assert.Contains(t, msg.Notification.Body, "B1")
	assert.Equal(t, "high", msg.Android.Priority)

	parking := models.NewDriverShiftStatus("drv-1", "shift-1", 1)
	parking.State = models.StateParkingRequested
	msg = BuildCallMessage([]string{"tok"}, parking)
	require.NotNil(t, msg)
	assert.Equal(t, "call_to_parking", msg.Data["type"])
	assert.NotContains(t, msg.Data, "dock_label")

	arrived := models.NewDriverShiftStatus("drv-1", "shift-1", 1)
	arrived.State = models.StateArrived
	assert.Nil(t, BuildCallMessage([]string{"tok"}, arrived))
}

func TestNotifyCall(t *testing.T) {
	ctx := context.Background()
	users := memstore.NewUserStore()
	require.NoError(t, users.SaveToken(ctx, models.FCMToken{UserID: "drv-1", Token: "phone"}))
	require.NoError(t, users.SaveToken(ctx, models.FCMToken{UserID: "drv-1", Token: "tablet"}))

	sender := &fakeSender{}
	svc := NewFCMServiceWithSender(sender, users)

	require.NoError(t, svc.NotifyCall(ctx, calledToDock("drv-1")))
	require.Len(t, sender.sent, 1)
	assert.ElementsMatch(t, []string{"phone", "tablet"}, sender.sent[0].Tokens)

	// No devices registered: nothing to send, not an error
	require.NoError(t, svc.NotifyCall(ctx, calledToDock("drv-2")))
	assert.Len(t, sender.sent, 1)

	sender.err = errors.New("unavailable")
	assert.Error(t, svc.NotifyCall(ctx, calledToDock("drv-1")))
}
