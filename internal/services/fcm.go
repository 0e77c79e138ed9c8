package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strconv"

	"dockwave-backend/internal/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// TokenSource returns the registered device tokens of a user
type TokenSource interface {
	TokensForUser(ctx context.Context, userID string) ([]string, error)
}

// MulticastSender is the part of the messaging client used to deliver pushes
type MulticastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMService handles Firebase Cloud Messaging. It is the reconciler's notifier for
// dock and parking calls.
type FCMService struct {
	client MulticastSender
	tokens TokenSource
}

// NewFCMService creates a new FCM service instance from a credentials file
func NewFCMService(credentialsFile string, tokens TokenSource) (*FCMService, error) {
	return newFCMService(option.WithCredentialsFile(credentialsFile), tokens)
}

// NewFCMServiceFromBase64 creates a new FCM service instance from base64-encoded credentials
// This is useful for cloud deployments where you can't upload files easily
func NewFCMServiceFromBase64(credentialsBase64 string, tokens TokenSource) (*FCMService, error) {
	credentialsJSON, err := base64.StdEncoding.DecodeString(credentialsBase64)
	if err != nil {
		return nil, fmt.Errorf("error decoding base64 credentials: %w", err)
	}
	return newFCMService(option.WithCredentialsJSON(credentialsJSON), tokens)
}

// NewFCMServiceWithSender wraps an existing sender
func NewFCMServiceWithSender(client MulticastSender, tokens TokenSource) *FCMService {
	return &FCMService{client: client, tokens: tokens}
}

func newFCMService(opt option.ClientOption, tokens TokenSource) (*FCMService, error) {
	ctx := context.Background()

	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return &FCMService{client: client, tokens: tokens}, nil
}

// NotifyCall pushes a dock or parking call to every device of the called driver
func (s *FCMService) NotifyCall(ctx context.Context, st models.DriverShiftStatus) error {
	tokens, err := s.tokens.TokensForUser(ctx, st.DriverID)
	if err != nil {
		return fmt.Errorf("error loading FCM tokens: %w", err)
	}
	if len(tokens) == 0 {
		log.Printf("⚠️  No FCM tokens for driver %s, skipping push", st.DriverID)
		return nil
	}

	message := BuildCallMessage(tokens, st)
	if message == nil {
		return nil
	}

	response, err := s.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return fmt.Errorf("error sending multicast message: %w", err)
	}

	log.Printf("✅ Call push for %s: %d success, %d failures", st.Key(), response.SuccessCount, response.FailureCount)
	return nil
}

// BuildCallMessage builds the push for a called driver, or nil when st is not a call
func BuildCallMessage(tokens []string, st models.DriverShiftStatus) *messaging.MulticastMessage {
	var title, body string
	data := map[string]string{
		"shift_id": st.ShiftID,
		"state":    string(st.State),
		"version":  strconv.Itoa(st.Version),
	}

	switch st.State {
	case models.StateCalledToDock:
		dock := ""
		if st.DockLabel != nil {
			dock = *st.DockLabel
			data["dock_label"] = dock
		}
		if st.RouteCode != nil {
			data["route_code"] = *st.RouteCode
		}
		data["type"] = "call_to_dock"
		title = "Go to your dock"
		body = fmt.Sprintf("Dock %s is ready for you. Confirm when you are on your way.", dock)
	case models.StateParkingRequested:
		data["type"] = "call_to_parking"
		title = "Please wait in the parking area"
		body = "Head to the parking area and confirm. You will be called to a dock shortly."
	default:
		return nil
	}

	return &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ContentAvailable: true,
					Sound:            "default",
				},
			},
		},
	}
}
