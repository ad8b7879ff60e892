// Package snssink forwards security-relevant audit events to an AWS SNS
// topic so operators are alerted about credential and 2FA changes made on
// the console.
package snssink

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/MrEthical07/adminauth"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// DefaultEventTypes are the events published when Options.EventTypes is empty.
var DefaultEventTypes = []string{
	"password_reset_confirm",
	"password_change_success",
	"totp_enabled",
	"totp_disabled",
	"email_change_commit",
	"account_creation_success",
	"rate_limit_triggered",
}

var ErrMissingTopic = errors.New("sns topic arn is required")

// Publisher is the subset of *sns.Client the sink calls.
type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type Options struct {
	TopicARN   string
	EventTypes []string
	// FailuresToo publishes matching events whose Success is false.
	FailuresToo bool
	Logger      *slog.Logger
}

// Sink implements [adminauth.AuditSink]. Emit runs on the audit dispatcher
// goroutine, so publish errors are logged and never returned.
type Sink struct {
	client      Publisher
	topicARN    string
	types       map[string]struct{}
	failuresToo bool
	logger      *slog.Logger
}

var _ adminauth.AuditSink = (*Sink)(nil)

// New loads the default AWS configuration for region and builds a sink on
// an SNS client.
func New(ctx context.Context, region string, opts Options) (*Sink, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return NewWithPublisher(sns.NewFromConfig(awsCfg), opts)
}

// NewWithPublisher builds a sink on any Publisher.
func NewWithPublisher(client Publisher, opts Options) (*Sink, error) {
	if opts.TopicARN == "" {
		return nil, ErrMissingTopic
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	eventTypes := opts.EventTypes
	if len(eventTypes) == 0 {
		eventTypes = DefaultEventTypes
	}
	types := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		types[t] = struct{}{}
	}
	return &Sink{
		client:      client,
		topicARN:    opts.TopicARN,
		types:       types,
		failuresToo: opts.FailuresToo,
		logger:      opts.Logger,
	}, nil
}

// Emit publishes event as JSON when its type is selected. The event type is
// also sent as a message attribute for subscription filter policies.
func (s *Sink) Emit(ctx context.Context, event adminauth.AuditEvent) {
	if !s.wants(event) {
		return
	}
	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("audit event encode failed", "event_type", event.EventType, "error", err)
		return
	}

	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String("adminauth: " + event.EventType),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(event.EventType)},
		},
	})
	if err != nil {
		s.logger.Error("audit event publish failed", "event_type", event.EventType, "event_id", event.ID, "error", err)
	}
}

func (s *Sink) wants(event adminauth.AuditEvent) bool {
	if _, ok := s.types[event.EventType]; !ok {
		return false
	}
	return event.Success || s.failuresToo || event.EventType == "rate_limit_triggered"
}
