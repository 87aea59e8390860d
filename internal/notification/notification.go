/*
Copyright 2024 SatsQueue Authors.

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

// Package notification reports system errors to the operator. It is unrelated to
// participant messages, which go through the notification collaborator.
package notification

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/satsqueue/satsqueue/config"
	"github.com/satsqueue/satsqueue/internal/request"
)

const slackTimeout = 10 * time.Second

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

func slackPayload(projectName string, err error, at time.Time) slackMessage {
	return slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: "Error From " + projectName + " 🐞", Emoji: true}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: "*Error:*\n" + err.Error()}}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: "*Time:*\n" + at.Format(time.RFC822)}}},
	}}
}

// SlackNotification posts err to the Slack incoming webhook at webhookURL.
func SlackNotification(ctx context.Context, webhookURL, projectName string, err error) error {
	ctx, cancel := context.WithTimeout(ctx, slackTimeout)
	defer cancel()

	_, postErr := request.PostJSON(ctx, http.DefaultClient, webhookURL, nil, slackPayload(projectName, err, time.Now()), nil)
	return postErr
}

// NotifyError logs a system error and, when Slack is configured, forwards it to the
// operator. It never blocks the caller.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		conf, err := config.Fetch()
		if err != nil {
			logrus.Warn(err)
			return
		}

		if conf.Notification.Slack.WebhookUrl == "" {
			return
		}
		if err := SlackNotification(context.Background(), conf.Notification.Slack.WebhookUrl, conf.ProjectName, systemError); err != nil {
			logrus.WithError(err).Warn("failed to send slack notification")
		}
	}(systemError)
}
