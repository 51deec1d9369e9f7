package engine

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/ManuelReschke/GhostRelay/internal/pkg/patterns"
	"github.com/gofiber/fiber/v2/log"
)

type Stage string

const (
	StagePredefined Stage = "predefined"
	StageLearned    Stage = "learned"
	StageHeuristic  Stage = "heuristic"
	StageFallback   Stage = "fallback"
)

const namePlaceholder = "{name}"

// Config holds the tunable learned-match thresholds.
type Config struct {
	// MatchThreshold is the score a learned token must exceed.
	MatchThreshold float64
	// MinOccurrence is the count an outbound token must exceed to be quoted.
	MinOccurrence int64
}

func DefaultConfig() Config {
	return Config{MatchThreshold: 0.3, MinOccurrence: 5}
}

// Request is one inbound message handed to the engine.
type Request struct {
	Text        string
	TenantBotID uint
	SenderID    int64
	SenderName  string
	Language    string
}

type Reply struct {
	Text  string
	Stage Stage
}

type stageFunc func(req Request, store *patterns.Store, cat *catalog) string

type step struct {
	stage Stage
	run   stageFunc
}

// Engine produces replies through a fixed cascade. It is safe for concurrent
// use; only template and fallback selection is random.
type Engine struct {
	cfg   Config
	steps []step

	mu  sync.Mutex
	rnd *rand.Rand
}

func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = def.MatchThreshold
	}
	if cfg.MinOccurrence <= 0 {
		cfg.MinOccurrence = def.MinOccurrence
	}
	seed := uint64(time.Now().UnixNano())
	e := &Engine{
		cfg: cfg,
		rnd: rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
	e.steps = []step{
		{StagePredefined, e.predefined},
		{StageLearned, e.learned},
		{StageHeuristic, e.heuristic},
	}
	return e
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Respond runs the cascade and always returns a non-empty reply. A panic in
// any stage yields the fallback.
func (e *Engine) Respond(req Request, store *patterns.Store) Reply {
	cat := catalogFor(req.Language)
	for _, st := range e.steps {
		text, ok := e.runStage(st, req, store, cat)
		if !ok {
			break
		}
		if strings.TrimSpace(text) != "" {
			return Reply{Text: text, Stage: st.stage}
		}
	}
	return Reply{Text: e.fallback(cat), Stage: StageFallback}
}

func (e *Engine) runStage(st step, req Request, store *patterns.Store, cat *catalog) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Engine] Stage %s failed for bot %d: %v", st.stage, req.TenantBotID, r)
			text, ok = "", false
		}
	}()
	return st.run(req, store, cat), true
}

func (e *Engine) predefined(req Request, _ *patterns.Store, cat *catalog) string {
	lower := strings.ToLower(req.Text)
	for _, p := range cat.predefined {
		if strings.Contains(lower, p.key) {
			return p.reply
		}
	}
	for _, kw := range cat.helpKeywords {
		if strings.Contains(lower, kw) {
			return cat.helpReply
		}
	}
	return ""
}

func (e *Engine) learned(req Request, store *patterns.Store, cat *catalog) string {
	if store == nil || len(store.Inbound) == 0 || len(store.Outbound) == 0 {
		return ""
	}
	tokens := uniqueTokens(patterns.Tokenize(req.Text))
	if len(tokens) == 0 {
		return ""
	}

	best := 0.0
	matched := false
	for _, tok := range tokens {
		freq, ok := store.Inbound[tok]
		if !ok {
			continue
		}
		score := float64(freq) / float64(len(tokens))
		if score > best {
			best = score
			matched = true
		}
	}
	if !matched || best <= e.cfg.MatchThreshold {
		return ""
	}

	word, _, ok := store.TopOutbound(e.cfg.MinOccurrence)
	if !ok {
		return ""
	}
	return capitalize(word) + cat.learnedSuffix
}

// uniqueTokens drops repeated tokens, keeping first occurrences in order.
func uniqueTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

func (e *Engine) heuristic(req Request, store *patterns.Store, cat *catalog) string {
	intent := DetectIntent(req.Text)
	sentiment := AnalyzeSentiment(req.Text)

	bucket := cat.templates[intent]
	if len(bucket) == 0 {
		bucket = cat.templates[IntentGeneral]
	}
	tpl := e.pick(bucket)

	name := strings.TrimSpace(req.SenderName)
	if name == "" && store != nil {
		name = store.Context.DisplayName
	}
	return fillName(tpl, name) + sentimentMarkers[sentiment]
}

func (e *Engine) fallback(cat *catalog) string {
	return e.pick(cat.fallbacks)
}

func (e *Engine) pick(options []string) string {
	if len(options) == 0 {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return options[e.rnd.IntN(len(options))]
}

// fillName substitutes the placeholder, or drops it together with the
// surrounding space when no name is known.
func fillName(tpl, name string) string {
	if !strings.Contains(tpl, namePlaceholder) {
		return tpl
	}
	if name != "" {
		return strings.ReplaceAll(tpl, namePlaceholder, name)
	}
	out := strings.ReplaceAll(tpl, namePlaceholder, "")
	out = strings.Join(strings.Fields(out), " ")
	out = strings.ReplaceAll(out, " ,", ",")
	out = strings.ReplaceAll(out, " !", "!")
	out = strings.ReplaceAll(out, " ।", "।")
	out = strings.ReplaceAll(out, " .", ".")
	return strings.TrimLeft(out, ", ")
}

func capitalize(word string) string {
	r, size := utf8.DecodeRuneInString(word)
	if r == utf8.RuneError {
		return word
	}
	return string(unicode.ToUpper(r)) + word[size:]
}
