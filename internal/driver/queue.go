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

package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/solsticehq/sunrunner/internal/archive"
	"github.com/solsticehq/sunrunner/internal/logctx"
)

// maxQueueDelay is the longest delay SQS accepts on a sent message.
const maxQueueDelay = 15 * time.Minute

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// QueueOptions configure a queue-fed runner.
type QueueOptions struct {
	// QueueURL is the SQS queue the step chain flows through.
	QueueURL string
	// PollInterval is how long a poll step waits before redelivery, capped
	// at the SQS limit of 15 minutes. Defaults to 2m30s.
	PollInterval time.Duration
	// MaxMessages is the receive batch size. Defaults to 10.
	MaxMessages int32
	// WaitTime is the long-poll window in seconds. Defaults to 20.
	WaitTime int32
	// VisibilityTimeout overrides the queue's redelivery window for
	// received messages, in seconds. Zero keeps the queue default.
	VisibilityTimeout int32
}

// QueueRunner consumes step requests from SQS and feeds each step's response
// back onto the queue as the next request. Poll steps re-enter with a delay
// so the reindex task gets time to make progress; a finished archival ends
// the chain. Failed steps stay on the queue for redelivery.
type QueueRunner struct {
	runner  *archive.Runner
	client  sqsAPI
	options QueueOptions
}

func NewQueueRunner(client sqsAPI, runner *archive.Runner, opts QueueOptions) (*QueueRunner, error) {
	if opts.QueueURL == "" {
		return nil, errors.New("queue URL is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.PollInterval > maxQueueDelay {
		opts.PollInterval = maxQueueDelay
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 10
	}
	if opts.WaitTime <= 0 {
		opts.WaitTime = 20
	}
	return &QueueRunner{runner: runner, client: client, options: opts}, nil
}

// Run consumes the queue until the context is canceled.
func (q *QueueRunner) Run(ctx context.Context) error {
	ll := logctx.FromContext(ctx)
	ll.Info("Starting queue runner", slog.String("queue_url", q.options.QueueURL))

	for {
		if ctx.Err() != nil {
			ll.Info("Queue runner stopped")
			return nil
		}
		if _, err := q.poll(ctx); err != nil {
			if ctx.Err() != nil {
				ll.Info("Queue runner stopped")
				return nil
			}
			ll.Error("Failed to receive messages", slog.Any("error", err))
			if err := sleepCtx(ctx, 5*time.Second); err != nil {
				return nil
			}
		}
	}
}

// poll performs one receive and dispatches every delivered message. It
// returns how many messages were handled.
func (q *QueueRunner) poll(ctx context.Context) (int, error) {
	result, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.options.QueueURL),
		MaxNumberOfMessages: q.options.MaxMessages,
		WaitTimeSeconds:     q.options.WaitTime,
		VisibilityTimeout:   q.options.VisibilityTimeout,
	})
	if err != nil {
		return 0, err
	}
	for _, msg := range result.Messages {
		q.handleMessage(ctx, msg)
	}
	return len(result.Messages), nil
}

func (q *QueueRunner) handleMessage(ctx context.Context, msg types.Message) {
	ll := logctx.FromContext(ctx)
	if msg.Body == nil {
		ll.Warn("Dropping queue message with no body",
			slog.String("message_id", aws.ToString(msg.MessageId)))
		q.deleteMessage(ctx, msg)
		return
	}

	out, err := q.runner.HandleStep(ctx, []byte(*msg.Body))
	var verr *archive.ValidationError
	switch {
	case errors.As(err, &verr):
		// Redelivery cannot fix a bad request.
		ll.Warn("Dropping invalid step request",
			slog.String("message_id", aws.ToString(msg.MessageId)),
			slog.Any("error", err))
		q.deleteMessage(ctx, msg)
		return
	case err != nil:
		ll.Error("Step failed, leaving message for redelivery",
			slog.String("message_id", aws.ToString(msg.MessageId)),
			slog.Any("error", err))
		return
	}

	// The follow-up goes out before the handled message comes off the queue,
	// so a crash in between duplicates a step instead of dropping the chain.
	if err := q.enqueueNext(ctx, out); err != nil {
		ll.Error("Failed to enqueue next step, leaving message for redelivery",
			slog.String("message_id", aws.ToString(msg.MessageId)),
			slog.Any("error", err))
		return
	}
	q.deleteMessage(ctx, msg)
}

// enqueueNext turns a step response into the next request. A scan fans out
// one kickoff per candidate; task states re-enter carrying their own step; a
// terminal response ends the chain.
func (q *QueueRunner) enqueueNext(ctx context.Context, response []byte) error {
	var candidates []string
	if err := json.Unmarshal(response, &candidates); err == nil {
		for _, index := range candidates {
			req, err := json.Marshal(archive.StepRequest{Step: archive.StepKickoffArchival, Index: index})
			if err != nil {
				return fmt.Errorf("encoding kickoff request: %w", err)
			}
			if err := q.send(ctx, req, 0); err != nil {
				return err
			}
		}
		return nil
	}

	var state archive.TaskState
	if err := json.Unmarshal(response, &state); err != nil {
		return fmt.Errorf("decoding step response: %w", err)
	}
	if state.Step == "" || state.Status == archive.StatusArchived {
		return nil
	}

	var delay time.Duration
	if state.Step == archive.StepPollReindexTask {
		delay = q.options.PollInterval
	}
	return q.send(ctx, response, delay)
}

func (q *QueueRunner) send(ctx context.Context, body []byte, delay time.Duration) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.options.QueueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: int32(delay.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("sending step request: %w", err)
	}
	return nil
}

// deleteMessage uses a detached context so a shutdown mid-handling still
// takes the finished message off the queue.
func (q *QueueRunner) deleteMessage(ctx context.Context, msg types.Message) {
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err := q.client.DeleteMessage(deleteCtx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.options.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		logctx.FromContext(ctx).Error("Failed to delete handled message",
			slog.String("message_id", aws.ToString(msg.MessageId)),
			slog.Any("error", err))
	}
}
