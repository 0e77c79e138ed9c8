package ingest

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"dockwave-backend/internal/errs"
	"dockwave-backend/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSAPI is the part of the SQS client the consumer uses
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// NewSQSClient builds an SQS client from the default AWS credential chain
func NewSQSClient(ctx context.Context, region string) (*sqs.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(cfg), nil
}

// SQSConsumer long-polls a queue of telematics location samples (one JSON
// models.LocationSample per message body) and runs them through the ingestor
type SQSConsumer struct {
	client     SQSAPI
	queueURL   string
	ingestor   *Ingestor
	retryDelay time.Duration
}

// NewSQSConsumer creates a consumer for queueURL
func NewSQSConsumer(client SQSAPI, queueURL string, ingestor *Ingestor) *SQSConsumer {
	return &SQSConsumer{
		client:     client,
		queueURL:   queueURL,
		ingestor:   ingestor,
		retryDelay: 5 * time.Second,
	}
}

// Start polls until ctx is cancelled
func (c *SQSConsumer) Start(ctx context.Context) {
	log.Printf("📡 [SQS] Consumer listening on %s", c.queueURL)
	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 [SQS] Context cancelled, consumer stopping")
			return
		default:
		}

		result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   60,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("❌ [SQS] Receive failed: %v", err)
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, message := range result.Messages {
			if message.Body == nil {
				c.deleteMessage(ctx, message.ReceiptHandle)
				continue
			}
			if err := c.HandleMessage(ctx, *message.Body); err != nil {
				// Left on the queue; it becomes visible again after the visibility timeout
				log.Printf("⚠️  [SQS] Message %s will be redelivered: %v", aws.ToString(message.MessageId), err)
				continue
			}
			c.deleteMessage(ctx, message.ReceiptHandle)
		}
	}
}

// HandleMessage ingests one message body. Infrastructure failures and persistence
// timeouts return an error so the message is redelivered; malformed or refused samples
// are logged and consumed, since redelivering them can never succeed.
func (c *SQSConsumer) HandleMessage(ctx context.Context, body string) error {
	var sample models.LocationSample
	if err := json.Unmarshal([]byte(body), &sample); err != nil {
		log.Printf("⚠️  [SQS] Dropping malformed location message: %v", err)
		return nil
	}
	_, err := c.ingestor.Ingest(ctx, sample)
	if err == nil {
		return nil
	}
	switch errs.KindOf(err) {
	case "", errs.KindPersistenceTimeout:
		return err
	}
	log.Printf("⚠️  [SQS] Sample from driver %s refused: %v", sample.DriverID, err)
	return nil
}

func (c *SQSConsumer) deleteMessage(ctx context.Context, receiptHandle *string) {
	if receiptHandle == nil {
		return
	}
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		log.Printf("❌ [SQS] Delete failed: %v", err)
	}
}
