/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/maintflow/maintflow/config"
	"github.com/maintflow/maintflow/internal/request"
	"github.com/maintflow/maintflow/model"
	"github.com/sirupsen/logrus"
)

var slackClient = &http.Client{Timeout: 10 * time.Second}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

// Field is one labelled line in a Slack message.
type Field struct {
	Label string
	Value string
}

func buildSlackMessage(title string, fields []Field, at time.Time) slackMessage {
	msg := slackMessage{Blocks: []slackBlock{{
		Type: "header",
		Text: &slackText{Type: "plain_text", Text: title, Emoji: true},
	}}}
	fields = append(fields, Field{Label: "Time", Value: at.Format(time.RFC822)})
	for _, f := range fields {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type:   "section",
			Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*\n%s", f.Label, f.Value)}},
		})
	}
	return msg
}

// SlackNotification posts a message to the given Slack incoming webhook.
func SlackNotification(ctx context.Context, webhookURL, title string, fields []Field) error {
	body, err := request.ToJson(buildSlackMessage(title, fields, time.Now()))
	if err != nil {
		return err
	}
	req, err := request.NewJSONRequest(ctx, http.MethodPost, webhookURL, body, nil)
	if err != nil {
		return err
	}
	resp, err := request.Do(slackClient, req)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

func notify(title string, fields []Field) {
	conf, err := config.Fetch()
	if err != nil {
		logrus.Error(err)
		return
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return
	}
	if err := SlackNotification(context.Background(), conf.Notification.Slack.WebhookUrl, title, fields); err != nil {
		logrus.WithError(err).Error("failed to send slack notification")
	}
}

// NotifyError logs systemError and reports it to Slack when configured.
// Delivery to Slack happens on its own goroutine.
func NotifyError(systemError error) {
	logrus.Error(systemError)
	go notify("Error From Maintflow 🐞", []Field{{Label: "Error", Value: systemError.Error()}})
}

// NotifyDeliveryFailed reports an outbox row that reached FAILED.
func NotifyDeliveryFailed(entry model.ApprovalOutbox) {
	logrus.WithFields(logrus.Fields{
		"outbox_id":   entry.OutboxID,
		"approval_id": entry.ApprovalID,
		"event_type":  entry.EventType,
		"retry_count": entry.RetryCount,
	}).Error("approval webhook delivery failed")

	go notify("Approval webhook delivery failed", []Field{
		{Label: "Outbox", Value: fmt.Sprintf("%d", entry.OutboxID)},
		{Label: "Approval", Value: fmt.Sprintf("%s / %s", entry.CompanyID, entry.ApprovalID)},
		{Label: "Event", Value: entry.EventType},
		{Label: "Callback", Value: entry.CallbackURL},
		{Label: "Error", Value: entry.LastErrorMessage},
	})
}
