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

// Package notify delivers operator alerts about archival activity. Alerts
// are shaped for AWS Chatbot custom notifications so they render as cards in
// the destination channel.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/solsticehq/sunrunner/internal/logctx"
)

// Category routes an alert. It is sent as the ErrorType message attribute so
// subscribers can filter on it.
type Category string

const (
	CategoryGeneral    Category = "GeneralAlert"
	CategoryLargeIndex Category = "LargeIndexAlert"
)

// Notifier delivers one alert. Content must be JSON-marshalable; use
// MarkdownContent for human-facing cards.
type Notifier interface {
	Notify(ctx context.Context, category Category, subject string, content any) error
}

// MarkdownContent is the client-markdown card a chatbot integration renders.
type MarkdownContent struct {
	TextType    string `json:"textType"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func Markdown(title, description string) MarkdownContent {
	return MarkdownContent{
		TextType:    "client-markdown",
		Title:       title,
		Description: description,
	}
}

// LargeIndexSubject is the subject line for threshold-crossing alerts.
const LargeIndexSubject = "Large Index Alert"

// LargeIndexAlert describes an index that crossed the archival size
// threshold.
type LargeIndexAlert struct {
	AccountID   string
	Index       string
	SizeGB      float64
	ThresholdGB float64
	StartedAt   time.Time
}

// Content renders the alert as a markdown card.
func (a LargeIndexAlert) Content() MarkdownContent {
	description := fmt.Sprintf(
		"*A Large Index was Identified for Archival*\n"+
			"- Account ID: `%s`\n"+
			"- Archival start time: `%s UTC`\n"+
			"- Size threshold: `%g GB`\n"+
			"Archival of index %s of size %.2f GB has been started\n"+
			"\n"+
			"_Note: It takes approximately 5 minutes to reindex 22GB of data on a r7g.large.search instance_",
		a.AccountID,
		a.StartedAt.UTC().Format("2006-01-02T15:04:05"),
		a.ThresholdGB,
		a.Index,
		a.SizeGB,
	)
	return Markdown(LargeIndexSubject, description)
}

// LogNotifier writes alerts to the log stream. It stands in when no
// notification topic is configured.
type LogNotifier struct{}

var _ Notifier = (*LogNotifier)(nil)

func (LogNotifier) Notify(ctx context.Context, category Category, subject string, content any) error {
	body, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	logctx.FromContext(ctx).Warn("Notification topic not configured, logging alert instead",
		slog.String("category", string(category)),
		slog.String("subject", subject),
		slog.String("content", string(body)))
	return nil
}
