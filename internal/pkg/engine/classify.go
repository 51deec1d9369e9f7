package engine

import "strings"

type Intent string

const (
	IntentGreeting  Intent = "greeting"
	IntentQuestion  Intent = "question"
	IntentRequest   Intent = "request"
	IntentComplaint Intent = "complaint"
	IntentGeneral   Intent = "general"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

type intentRule struct {
	intent   Intent
	keywords []string
}

// intentRules is checked in order and the first rule with a matching keyword
// wins: greeting, question, request, complaint.
var intentRules = []intentRule{
	{IntentGreeting, []string{"হ্যালো", "হাই", "সালাম", "কেমন", "খবর", "good morning", "good evening"}},
	{IntentQuestion, []string{"কি", "কেন", "কিভাবে", "কখন", "কোথায়", "কে", "?", "what", "why", "how", "when", "where", "who"}},
	{IntentRequest, []string{"চাই", "দাও", "করো", "করুন", "সাহায্য", "হেল্প", "please", "want", "need", "give"}},
	{IntentComplaint, []string{"সমস্যা", "প্রবলেম", "ভুল", "এরর", "কাজ করে না", "কাজ করছে না", "problem", "error", "broken", "not working", "wrong"}},
}

var positiveWords = []string{
	"ভালো", "খুশি", "আনন্দ", "ধন্যবাদ", "থ্যাংকস", "সুপার", "এক্সিলেন্ট", "বিউটিফুল",
	"good", "great", "thanks", "happy", "love", "awesome",
}

var negativeWords = []string{
	"খারাপ", "বাজে", "দুঃখ", "কষ্ট", "প্রবলেম", "সমস্যা", "বিরক্ত", "অসুস্থ", "কাজ করে না", "কাজ করছে না",
	"bad", "sad", "angry", "problem", "broken", "not working",
}

var sentimentMarkers = map[Sentiment]string{
	SentimentPositive: " 😊",
	SentimentNegative: " 😔",
	SentimentNeutral:  " 💫",
}

// DetectIntent classifies text by fixed keyword sets.
func DetectIntent(text string) Intent {
	lower := strings.ToLower(text)
	for _, rule := range intentRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.intent
			}
		}
	}
	return IntentGeneral
}

// AnalyzeSentiment counts positive and negative keyword hits. Ties are neutral.
func AnalyzeSentiment(text string) Sentiment {
	lower := strings.ToLower(text)
	pos, neg := 0, 0
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
		}
	}
	switch {
	case pos > neg:
		return SentimentPositive
	case neg > pos:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}
