package payload

import (
	"fmt"
	"strings"
	"time"

	"github.com/hypothesize-tech/courier/event"
)

// platform identifies well-known chat webhook URL shapes.
type platform int

const (
	platformGeneric platform = iota
	platformSlack
	platformDiscord
)

// detectPlatform recognizes chat webhook targets by URL substring.
func detectPlatform(url string) platform {
	switch {
	case strings.Contains(url, "hooks.slack.com"):
		return platformSlack
	case strings.Contains(url, "discord.com/api/webhooks"),
		strings.Contains(url, "discordapp.com/api/webhooks"):
		return platformDiscord
	default:
		return platformGeneric
	}
}

var severityEmoji = map[event.Severity]string{
	event.SeverityLow:      ":information_source:",
	event.SeverityMedium:   ":warning:",
	event.SeverityHigh:     ":rotating_light:",
	event.SeverityCritical: ":fire:",
}

// Slack attachment colors per severity.
var severityHexColor = map[event.Severity]string{
	event.SeverityLow:      "#36a64f",
	event.SeverityMedium:   "#ecb22e",
	event.SeverityHigh:     "#e8912d",
	event.SeverityCritical: "#e01e5a",
}

// Discord embed colors per severity (decimal RGB).
var severityIntColor = map[event.Severity]int{
	event.SeverityLow:      0x36a64f,
	event.SeverityMedium:   0xecb22e,
	event.SeverityHigh:     0xe8912d,
	event.SeverityCritical: 0xe01e5a,
}

// slackMessage is the Slack incoming-webhook payload shape.
type slackMessage struct {
	Text        string            `json:"text"`
	Blocks      []slackBlock      `json:"blocks,omitempty"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackAttachment struct {
	Color string `json:"color"`
	Text  string `json:"text,omitempty"`
}

func slackPayload(evt *event.Event) slackMessage {
	sev := evt.Data.Severity
	title := fmt.Sprintf("%s %s", severityEmoji[sev], evt.Data.Title)

	fields := []slackText{
		{Type: "mrkdwn", Text: "*Type:*\n" + evt.Type},
		{Type: "mrkdwn", Text: "*Severity:*\n" + string(sev)},
	}
	if evt.ProjectID != "" {
		fields = append(fields, slackText{Type: "mrkdwn", Text: "*Project:*\n" + evt.ProjectID})
	}
	if cost, ok := evt.Cost(); ok {
		fields = append(fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*Cost:*\n$%.4f", cost)})
	}

	msg := slackMessage{
		Text: title,
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: evt.Data.Title}},
			{Type: "section", Fields: fields},
		},
	}

	if evt.Data.Description != "" {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: evt.Data.Description},
		})
	}

	msg.Attachments = []slackAttachment{{Color: severityHexColor[sev]}}
	return msg
}

// discordMessage is the Discord webhook payload shape.
type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

func discordPayload(evt *event.Event) discordMessage {
	sev := evt.Data.Severity

	fields := []discordField{
		{Name: "Type", Value: evt.Type, Inline: true},
		{Name: "Severity", Value: string(sev), Inline: true},
	}
	if evt.ProjectID != "" {
		fields = append(fields, discordField{Name: "Project", Value: evt.ProjectID, Inline: true})
	}
	if cost, ok := evt.Cost(); ok {
		fields = append(fields, discordField{Name: "Cost", Value: fmt.Sprintf("$%.4f", cost), Inline: true})
	}

	ts := evt.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return discordMessage{
		Embeds: []discordEmbed{{
			Title:       fmt.Sprintf("%s %s", severityEmoji[sev], evt.Data.Title),
			Description: evt.Data.Description,
			Color:       severityIntColor[sev],
			Fields:      fields,
			Timestamp:   ts.Format(time.RFC3339),
		}},
	}
}
