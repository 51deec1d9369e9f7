package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/ManuelReschke/GhostRelay/app/models"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/patterns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespond_PredefinedIsVerbatim(t *testing.T) {
	e := New(DefaultConfig())
	for i := 0; i < 5; i++ {
		r := e.Respond(Request{Text: "Hello"}, patterns.New(1))
		assert.Equal(t, "হ্যালো! কেমন আছেন? 😊", r.Text)
		assert.Equal(t, StagePredefined, r.Stage)
	}

	r := e.Respond(Request{Text: "I need HELP with this"}, nil)
	assert.Equal(t, StagePredefined, r.Stage)
	// "hi" in "this" matches before the help keyword.
	assert.Equal(t, "হাই! ভালো আছি, আপনি? 💝", r.Text)

	r = e.Respond(Request{Text: "আমাকে সাহায্য করুন"}, nil)
	assert.Equal(t, "কীভাবে সাহায্য করতে পারি? বিস্তারিত বলুন। 🤔", r.Text)

	r = e.Respond(Request{Text: "hello", Language: models.LanguageEnglish}, nil)
	assert.Equal(t, "Hello! How are you? 😊", r.Text)
}

func TestRespond_LearnedMatch(t *testing.T) {
	e := New(DefaultConfig())
	store := patterns.New(1)
	store.Inbound = models.FrequencyMap{"পরীক্ষা": 4, "আজ": 1}
	store.Outbound = models.FrequencyMap{"শুভকামনা": 8, "ধন্যবাদ": 8, "ঠিক": 2}

	r := e.Respond(Request{Text: "আজ পরীক্ষা"}, store)
	assert.Equal(t, StageLearned, r.Stage)
	assert.Equal(t, "ধন্যবাদ... আরও বলুন।", r.Text, "ties resolve lexically")

	store.Outbound = models.FrequencyMap{"okay": 9}
	r = e.Respond(Request{Text: "আজ পরীক্ষা", Language: models.LanguageEnglish}, store)
	assert.Equal(t, "Okay... tell me more.", r.Text)
}

func TestRespond_LearnedBelowThresholdFallsThrough(t *testing.T) {
	e := New(DefaultConfig())
	store := patterns.New(1)
	store.Inbound = models.FrequencyMap{"পরীক্ষা": 1}
	store.Outbound = models.FrequencyMap{"শুভকামনা": 8}

	// score 1/4 = 0.25
	r := e.Respond(Request{Text: "এটা একটা বড় পরীক্ষা"}, store)
	assert.Equal(t, StageHeuristic, r.Stage)

	// Outbound counts must exceed the minimum occurrence.
	store.Inbound = models.FrequencyMap{"পরীক্ষা": 5}
	store.Outbound = models.FrequencyMap{"শুভকামনা": 5}
	r = e.Respond(Request{Text: "এটা একটা বড় পরীক্ষা"}, store)
	assert.Equal(t, StageHeuristic, r.Stage)

	tuned := New(Config{MatchThreshold: 0.1, MinOccurrence: 4})
	store.Inbound = models.FrequencyMap{"পরীক্ষা": 1}
	r = tuned.Respond(Request{Text: "এটা একটা বড় পরীক্ষা"}, store)
	assert.Equal(t, StageLearned, r.Stage)
}

func TestRespond_LearnedScoreIgnoresRepeatedWords(t *testing.T) {
	e := New(DefaultConfig())
	store := patterns.New(1)
	store.Inbound = models.FrequencyMap{"পরীক্ষা": 1}
	store.Outbound = models.FrequencyMap{"শুভকামনা": 8}

	// Two distinct words: 1/2 = 0.5, not 1/4.
	r := e.Respond(Request{Text: "পরীক্ষা পরীক্ষা পরীক্ষা খাতা"}, store)
	assert.Equal(t, StageLearned, r.Stage)
	assert.Equal(t, "শুভকামনা... আরও বলুন।", r.Text)
}

func TestRespond_ComplaintWithNegativeMarker(t *testing.T) {
	e := New(DefaultConfig())
	r := e.Respond(Request{Text: "এটা কাজ করছে না"}, patterns.New(1))

	require.Equal(t, StageHeuristic, r.Stage)
	require.True(t, strings.HasSuffix(r.Text, " 😔"), r.Text)

	body := strings.TrimSuffix(r.Text, " 😔")
	var bucket []string
	for _, tpl := range banglish.templates[IntentComplaint] {
		bucket = append(bucket, fillName(tpl, ""))
	}
	assert.Contains(t, bucket, body)
}

func TestRespond_NameSubstitution(t *testing.T) {
	e := New(DefaultConfig())
	store := patterns.New(1)
	store.RememberName("Karim")

	for i := 0; i < 30; i++ {
		r := e.Respond(Request{Text: "ঠিক আছে"}, store)
		assert.NotContains(t, r.Text, namePlaceholder)
		r = e.Respond(Request{Text: "ঠিক আছে", SenderName: "Rahim"}, store)
		assert.NotContains(t, r.Text, "Karim")
	}

	assert.Equal(t, "জি Rahim, চেষ্টা করছি।", fillName("জি {name}, চেষ্টা করছি।", "Rahim"))
	assert.Equal(t, "জি, চেষ্টা করছি।", fillName("জি {name}, চেষ্টা করছি।", ""))
	assert.Equal(t, "এটা নিয়ে একটু পরে বিস্তারিত বলছি।", fillName("{name}, এটা নিয়ে একটু পরে বিস্তারিত বলছি।", ""))
	assert.Equal(t, "হুম, বুঝলাম।", fillName("হুম, বুঝলাম {name}।", ""))
}

func TestRespond_PanicFallsBack(t *testing.T) {
	e := New(DefaultConfig())
	e.steps = []step{{StagePredefined, func(Request, *patterns.Store, *catalog) string {
		panic("boom")
	}}}

	r := e.Respond(Request{Text: "hello"}, nil)
	assert.Equal(t, StageFallback, r.Stage)
	assert.Contains(t, banglish.fallbacks, r.Text)
}

func TestRespond_EmptyStagesFallBack(t *testing.T) {
	e := New(DefaultConfig())
	e.steps = []step{{StageHeuristic, func(Request, *patterns.Store, *catalog) string { return "  " }}}

	r := e.Respond(Request{Text: "x", Language: models.LanguageEnglish}, nil)
	assert.Equal(t, StageFallback, r.Stage)
	assert.Contains(t, english.fallbacks, r.Text)
}

func TestRespond_NeverEmpty(t *testing.T) {
	e := New(DefaultConfig())
	store := patterns.New(1)
	inputs := []string{"", " ", "???", "এটা", "why is this broken", "thanks a lot", "১২৩"}
	for _, in := range inputs {
		r := e.Respond(Request{Text: in}, store)
		assert.NotEmpty(t, strings.TrimSpace(r.Text), "input %q", in)
		store.Update(in, r.Text, time.Now())
	}
}

func TestDetectIntentPriority(t *testing.T) {
	assert.Equal(t, IntentGreeting, DetectIntent("কেমন সমস্যা"))
	assert.Equal(t, IntentQuestion, DetectIntent("কেন সমস্যা"))
	assert.Equal(t, IntentRequest, DetectIntent("সমস্যা ঠিক করুন"))
	assert.Equal(t, IntentComplaint, DetectIntent("এটা কাজ করছে না"))
	assert.Equal(t, IntentGeneral, DetectIntent("ঠিক আছে"))
}

func TestAnalyzeSentiment(t *testing.T) {
	assert.Equal(t, SentimentPositive, AnalyzeSentiment("অনেক ধন্যবাদ, ভালো লাগলো"))
	assert.Equal(t, SentimentNegative, AnalyzeSentiment("খুব বাজে অবস্থা"))
	assert.Equal(t, SentimentNeutral, AnalyzeSentiment("ভালো কিন্তু খারাপ"))
	assert.Equal(t, SentimentNeutral, AnalyzeSentiment("ঠিক আছে"))
}
