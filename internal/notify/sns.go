// Copyright (C) 2025-2026 SolsticeHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/solsticehq/sunrunner/internal/idgen"
	"github.com/solsticehq/sunrunner/internal/logctx"
)

var publishCounter metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/solsticehq/sunrunner/internal/notify")

	var err error
	publishCounter, err = meter.Int64Counter(
		"sunrunner.notify.published",
		metric.WithDescription("Number of notifications published by category and outcome"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create publish counter: %w", err))
	}
}

// maxSubjectLen is the SNS Publish subject limit; longer subjects are
// rejected by the API.
const maxSubjectLen = 100

// snsPublisher is the slice of the SNS API the notifier needs.
type snsPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes chatbot-compatible alerts to an SNS topic. Every
// message carries an ErrorType attribute for subscription filtering and a
// sortable EventID attribute for correlating alerts with logs.
type SNSNotifier struct {
	client   snsPublisher
	topicARN string
	ids      idgen.IDGenerator
}

var _ Notifier = (*SNSNotifier)(nil)

func NewSNSNotifier(client snsPublisher, topicARN string) *SNSNotifier {
	return &SNSNotifier{
		client:   client,
		topicARN: topicARN,
		ids:      &idgen.InlineULIDGenerator{},
	}
}

// envelope is the custom-notification wrapper chatbot integrations expect.
type envelope struct {
	Version  string           `json:"version"`
	Source   string           `json:"source"`
	Content  any              `json:"content"`
	Metadata envelopeMetadata `json:"metadata"`
}

type envelopeMetadata struct {
	EnableCustomActions bool `json:"enableCustomActions"`
}

func (n *SNSNotifier) Notify(ctx context.Context, category Category, subject string, content any) error {
	body, err := json.Marshal(envelope{
		Version: "1.0",
		Source:  "custom",
		Content: content,
	})
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	if len(subject) > maxSubjectLen {
		subject = subject[:maxSubjectLen]
	}

	eventID := n.ids.Make(time.Now())
	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"ErrorType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(category)),
			},
			"EventID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(eventID),
			},
		},
	})
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	publishCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", string(category)),
		attribute.String("outcome", outcome),
	))
	if err != nil {
		return fmt.Errorf("publishing %s notification: %w", category, err)
	}

	logctx.FromContext(ctx).Info("Published notification",
		slog.String("category", string(category)),
		slog.String("subject", subject),
		slog.String("event_id", eventID))
	return nil
}
