// Package render turns reminder records into Discord messages. It only
// reads the fields copied onto the record, never the source entity.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/noahxzhu/devoir-reminders/internal/model"
)

const (
	colorHigh    = 0xe74c3c
	colorLow     = 0x95a5a6
	colorDefault = 0xf39c12
	colorWeek    = 0xf1c40f
	colorDM      = 0x3498db
)

var categoryLabels = map[string]string{
	"homework": "Homework",
	"exam":     "Exam",
	"project":  "Project",
}

var importanceLabels = map[string]string{
	"low":    "Low",
	"normal": "Important",
	"high":   "Very important",
}

func categoryLabel(c string) string {
	if l, ok := categoryLabels[model.CanonicalCategory(c)]; ok {
		return l
	}
	return categoryLabels[model.DefaultCategory]
}

func importanceLabel(i string) string {
	if l, ok := importanceLabels[model.CanonicalImportance(i)]; ok {
		return l
	}
	return importanceLabels[model.DefaultImportance]
}

func or(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// Color picks the embed colour from importance, with week-ahead reminders
// in yellow unless the item is very important.
func Color(importance, kind string) int {
	importance = model.CanonicalImportance(importance)
	color := colorDefault
	switch importance {
	case "high":
		color = colorHigh
	case "low":
		color = colorLow
	}
	if kind == model.Kind7Days && importance != "high" {
		color = colorWeek
	}
	return color
}

func describe(r *model.Reminder) string {
	label := strings.ToLower(categoryLabel(r.Category))
	switch {
	case r.Kind == model.Kind7Days:
		return fmt.Sprintf("The %s **%s** is due in **7 days** (%s).", label, r.Title, r.Date)
	case r.Kind == model.Kind1DayMorn:
		return fmt.Sprintf("The %s **%s** is due **tomorrow** (%s).", label, r.Title, r.Date)
	default:
		return fmt.Sprintf("Reminder for the %s **%s** (due %s).", label, r.Title, r.Date)
	}
}

// Channel renders a guild channel reminder. A configured role is mentioned,
// otherwise @everyone.
func Channel(r *model.Reminder, guild model.GuildSettings, now time.Time) *discordgo.MessageSend {
	content := "@everyone"
	mentions := &discordgo.MessageAllowedMentions{
		Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeEveryone},
	}
	if guild.RoleID != "" {
		content = fmt.Sprintf("<@&%s>", guild.RoleID)
		mentions = &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{},
			Roles: []string{guild.RoleID},
		}
	}

	embed := &discordgo.MessageEmbed{
		Title:       "📢 " + categoryLabel(r.Category) + " reminder",
		Description: describe(r),
		Color:       Color(r.Importance, r.Kind),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "📘 Title", Value: or(r.Title, "Untitled")},
			{Name: "📅 Deadline", Value: or(r.Date, "Not set")},
			{Name: "📍 Importance", Value: importanceLabel(r.Importance), Inline: true},
			{Name: "📝 Description", Value: or(r.Description, "None")},
		},
		Timestamp: now.Format(time.RFC3339),
	}

	return &discordgo.MessageSend{
		Content:         content,
		Embeds:          []*discordgo.MessageEmbed{embed},
		AllowedMentions: mentions,
	}
}

// DM renders a direct message reminder.
func DM(r *model.Reminder, now time.Time) *discordgo.MessageSend {
	embed := &discordgo.MessageEmbed{
		Title: "🔔 Reminder (DM) · " + categoryLabel(r.Category),
		Description: fmt.Sprintf("You asked to be reminded about:\n\n📘 **%s**\n📅 %s\n📝 %s",
			or(r.Title, "Untitled"), or(r.Date, "Not set"), or(r.Description, "None")),
		Color: colorDM,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "📍 Importance", Value: importanceLabel(r.Importance), Inline: true},
		},
		Timestamp: now.Format(time.RFC3339),
	}
	return &discordgo.MessageSend{
		Embeds:          []*discordgo.MessageEmbed{embed},
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}
}
