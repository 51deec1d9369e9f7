package patterns

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ManuelReschke/GhostRelay/app/models"
	"gorm.io/datatypes"
)

// MinTokenRunes is the exclusive lower bound on token length for learning.
const MinTokenRunes = 2

// VocabularySaturation is the vocabulary size at which accuracy reaches 1.
const VocabularySaturation = 1000

// Store is the in-memory pattern store of one tenant bot. It is owned by a
// single worker and is not safe for concurrent use.
type Store struct {
	TenantBotID   uint
	Inbound       models.FrequencyMap
	Outbound      models.FrequencyMap
	Context       models.PatternContext
	Accuracy      float64
	TrainingCount int64
	LastTrainedAt *time.Time

	recordID uint
}

// New returns an empty store for a tenant.
func New(tenantBotID uint) *Store {
	return &Store{
		TenantBotID: tenantBotID,
		Inbound:     models.FrequencyMap{},
		Outbound:    models.FrequencyMap{},
	}
}

// FromRecord builds a store from its persisted form.
func FromRecord(rec *models.PatternRecord) *Store {
	s := New(rec.TenantBotID)
	s.recordID = rec.ID
	for k, v := range rec.Inbound.Data() {
		s.Inbound[k] = v
	}
	for k, v := range rec.Outbound.Data() {
		s.Outbound[k] = v
	}
	s.Context = rec.Context.Data()
	s.Accuracy = rec.Accuracy
	s.TrainingCount = rec.TrainingCount
	s.LastTrainedAt = rec.LastTrainedAt
	return s
}

// ToRecord returns the persisted form. The maps are copied so the record can
// be written while the worker keeps mutating the store.
func (s *Store) ToRecord() *models.PatternRecord {
	in := make(models.FrequencyMap, len(s.Inbound))
	for k, v := range s.Inbound {
		in[k] = v
	}
	out := make(models.FrequencyMap, len(s.Outbound))
	for k, v := range s.Outbound {
		out[k] = v
	}
	return &models.PatternRecord{
		ID:            s.recordID,
		TenantBotID:   s.TenantBotID,
		Inbound:       datatypes.NewJSONType(in),
		Outbound:      datatypes.NewJSONType(out),
		Context:       datatypes.NewJSONType(s.Context),
		Accuracy:      s.Accuracy,
		TrainingCount: s.TrainingCount,
		LastTrainedAt: s.LastTrainedAt,
	}
}

// SetRecordID remembers the primary key assigned on first save.
func (s *Store) SetRecordID(id uint) {
	s.recordID = id
}

// Tokenize lower-cases and splits on whitespace.
func Tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// LearnableTokens returns the tokens of text long enough to be counted.
func LearnableTokens(text string) []string {
	tokens := Tokenize(text)
	out := tokens[:0]
	for _, tok := range tokens {
		if utf8.RuneCountInString(tok) > MinTokenRunes {
			out = append(out, tok)
		}
	}
	return out
}

// Update records one exchange. Frequencies only grow and accuracy saturates at 1.
func (s *Store) Update(inbound, reply string, now time.Time) {
	if s.Inbound == nil {
		s.Inbound = models.FrequencyMap{}
	}
	if s.Outbound == nil {
		s.Outbound = models.FrequencyMap{}
	}
	for _, tok := range LearnableTokens(inbound) {
		s.Inbound[tok]++
	}
	for _, tok := range LearnableTokens(reply) {
		s.Outbound[tok]++
	}

	ts := now
	if s.Context.LastInteraction == nil || ts.After(*s.Context.LastInteraction) {
		s.Context.LastInteraction = &ts
	}
	if s.LastTrainedAt == nil || ts.After(*s.LastTrainedAt) {
		s.LastTrainedAt = &ts
	}
	s.Context.TotalInteractions++
	s.TrainingCount++
	s.Accuracy = accuracy(len(s.Inbound), len(s.Outbound))
}

// RememberName stores a display name learned from the sender profile.
func (s *Store) RememberName(name string) {
	name = strings.TrimSpace(name)
	if name != "" {
		s.Context.DisplayName = name
	}
}

// TopOutbound returns the most frequent outbound token whose count is greater
// than minOccurrence. Ties resolve to the lexically smallest token.
func (s *Store) TopOutbound(minOccurrence int64) (string, int64, bool) {
	var (
		best  string
		count int64
	)
	for tok, n := range s.Outbound {
		if n <= minOccurrence {
			continue
		}
		if n > count || (n == count && tok < best) {
			best, count = tok, n
		}
	}
	return best, count, count > 0
}

// Vocabulary returns the inbound tokens ordered by descending frequency.
func (s *Store) Vocabulary(limit int) []string {
	tokens := make([]string, 0, len(s.Inbound))
	for tok := range s.Inbound {
		tokens = append(tokens, tok)
	}
	sort.Slice(tokens, func(i, j int) bool {
		a, b := s.Inbound[tokens[i]], s.Inbound[tokens[j]]
		if a != b {
			return a > b
		}
		return tokens[i] < tokens[j]
	})
	if limit > 0 && len(tokens) > limit {
		tokens = tokens[:limit]
	}
	return tokens
}

// Train replays the answered conversations of history, oldest first, on top
// of what the store already learned. It returns the number of exchanges
// applied.
func (s *Store) Train(history []models.Conversation) int {
	applied := 0
	for i := range history {
		c := &history[i]
		if c.Reply == nil || *c.Reply == "" || strings.TrimSpace(c.InboundText) == "" {
			continue
		}
		s.Update(c.InboundText, *c.Reply, c.ReceivedAt)
		applied++
	}
	return applied
}

func accuracy(inboundVocab, outboundVocab int) float64 {
	acc := float64(inboundVocab+outboundVocab) / VocabularySaturation
	if acc > 1 {
		return 1
	}
	return acc
}
