package bridge

import (
	"fmt"
	"strings"

	"github.com/mitralabs/mitra/internal/store"
)

const defaultCompanionName = "Mitra"

var categoryGreetings = map[string]string{
	"anxiety":             "Hi, I'm %s. I know anxiety can make everything feel louder than it is. You're in a safe space here. Take a slow breath with me - what's been weighing on you?",
	"depression":          "Hello, I'm %s. Reaching out when things feel heavy takes real strength, and I'm glad you did. I'm here to listen, no judgment. How have you been feeling lately?",
	"stress":              "Hi there, I'm %s. Sounds like there's a lot on your plate right now. Let's slow things down together. What's been the biggest source of pressure for you?",
	"loneliness":          "Hello, I'm %s. Feeling alone is hard, and I want you to know someone is listening right now. What's been on your mind?",
	"academic_pressure":   "Hi, I'm %s. Studies and expectations can pile up fast. You don't have to carry it all at once. What's been the toughest part lately?",
	"relationship_issues": "Hello, I'm %s. Relationships can be the best and hardest parts of life. I'm here to help you sort through whatever is happening. What would you like to talk about?",
	"self_esteem":         "Hi there, I'm %s. Working on how you see yourself takes courage. You deserve to feel good about who you are. What's been affecting that lately?",
	"career_confusion":    "Hello, I'm %s. Not knowing the next step is more common than it feels. Let's think it through together. Where do things stand for you right now?",
	"family_problems":     "Hi, I'm %s. Family can be complicated, and it's okay to need a space to talk it out. I'm listening. What's been going on at home?",
	"general_wellbeing":   "Hello! I'm %s, your wellness companion. This is your space to be heard, no pressure to talk about anything specific. What's on your mind today?",
}

// Greeting builds the personalized opening line pushed into the engine right
// after the session connects.
func Greeting(profile *store.Profile, problemCategory string) string {
	companion := defaultCompanionName
	userName := "there"
	if profile != nil {
		if strings.TrimSpace(profile.CompanionName) != "" {
			companion = strings.TrimSpace(profile.CompanionName)
		}
		if strings.TrimSpace(profile.DisplayName) != "" {
			userName = strings.TrimSpace(profile.DisplayName)
		}
	}

	if tmpl, ok := categoryGreetings[strings.TrimSpace(problemCategory)]; ok {
		return fmt.Sprintf(tmpl, companion)
	}
	return fmt.Sprintf(
		"Hello %s! I'm %s, your wellness companion. I'm here to listen and support you. How are you feeling today?",
		userName, companion,
	)
}

// SystemInstruction builds the engine-side conversational instruction from
// the user's profile and chosen topic.
func SystemInstruction(profile *store.Profile, problemCategory string) string {
	var b strings.Builder
	b.WriteString("You are a compassionate wellness companion on a live voice call. ")
	b.WriteString("Respond with warm, natural, conversational speech. Keep answers short enough to speak in under a minute. ")
	b.WriteString("Validate emotions, ask gentle follow-up questions, and offer practical coping techniques when they fit. ")
	b.WriteString("You are supportive, not prescriptive; you do not replace professional care.")

	if profile != nil {
		if name := strings.TrimSpace(profile.DisplayName); name != "" {
			fmt.Fprintf(&b, " The caller's name is %s; use it occasionally.", name)
		}
		companion := strings.TrimSpace(profile.CompanionName)
		if companion == "" {
			companion = defaultCompanionName
		}
		fmt.Fprintf(&b, " Your name is %s.", companion)
	}
	if cat := strings.TrimSpace(problemCategory); cat != "" {
		fmt.Fprintf(&b, " The caller wants to talk about: %s.", strings.ReplaceAll(cat, "_", " "))
	}
	return b.String()
}
