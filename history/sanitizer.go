package history

import (
	"context"
	"sync"

	"github.com/goliatone/go-masker"
	"github.com/goliatone/go-preferences/pkg/types"
)

const maskedValue = "****"

// SanitizerConfig controls the masker used when exposing history entries.
type SanitizerConfig struct {
	Masker   *masker.Masker
	Defaults types.DefaultsRepository
}

var defaultMaskerOnce sync.Once

// DefaultMasker returns a configured masker instance with the default denylist.
func DefaultMasker() *masker.Masker {
	defaultMaskerOnce.Do(func() {
		if masker.Default == nil {
			return
		}
		registerDefaultMaskFields(masker.Default)
	})
	return masker.Default
}

// Sanitizer redacts sensitive preference values before history entries leave
// the engine. Stored rows keep the real values; only the read surface masks.
type Sanitizer struct {
	masker   *masker.Masker
	defaults types.DefaultsRepository
}

// NewSanitizer constructs a history sanitizer.
func NewSanitizer(cfg SanitizerConfig) *Sanitizer {
	mask := cfg.Masker
	if mask == nil {
		mask = DefaultMasker()
	}
	return &Sanitizer{
		masker:   mask,
		defaults: cfg.Defaults,
	}
}

// SanitizeRecord masks the old/new values of entries whose key is marked
// sensitive in the system defaults. Entries for unknown keys pass through
// untouched.
func (s *Sanitizer) SanitizeRecord(ctx context.Context, record types.ChangeRecord) types.ChangeRecord {
	if !s.sensitive(ctx, record.Key) {
		record.OldValue = s.maskStructured(record.OldValue)
		record.NewValue = s.maskStructured(record.NewValue)
		return record
	}
	if record.OldValue != nil {
		record.OldValue = maskedValue
	}
	if record.NewValue != nil {
		record.NewValue = maskedValue
	}
	return record
}

// SanitizeRecords masks sensitive values for every record in the slice.
func (s *Sanitizer) SanitizeRecords(ctx context.Context, records []types.ChangeRecord) []types.ChangeRecord {
	if len(records) == 0 {
		return records
	}
	out := make([]types.ChangeRecord, 0, len(records))
	for _, record := range records {
		out = append(out, s.SanitizeRecord(ctx, record))
	}
	return out
}

// SanitizePage masks a history page in place.
func (s *Sanitizer) SanitizePage(ctx context.Context, page types.HistoryPage) types.HistoryPage {
	page.Records = s.SanitizeRecords(ctx, page.Records)
	return page
}

func (s *Sanitizer) sensitive(ctx context.Context, key string) bool {
	if s.defaults == nil || key == "" {
		return false
	}
	def, err := s.defaults.GetDefault(ctx, key)
	if err != nil || def == nil {
		return false
	}
	return def.Sensitive || def.DataType == types.DataTypeEncrypted
}

// maskStructured runs map payloads through the field denylist so secrets
// embedded in json-typed values are still redacted.
func (s *Sanitizer) maskStructured(value any) any {
	payload, ok := value.(map[string]any)
	if !ok || len(payload) == 0 || s.masker == nil {
		return value
	}
	masked, err := s.masker.Mask(cloneStringMap(payload))
	if err != nil {
		return map[string]any{}
	}
	if out, ok := masked.(map[string]any); ok {
		return out
	}
	return map[string]any{}
}

func registerDefaultMaskFields(mask *masker.Masker) {
	if mask == nil {
		return
	}
	mask.RegisterMaskField("Secret", "filled4")
	mask.RegisterMaskField("secret", "filled4")
	mask.RegisterMaskField("token", "filled4")
	mask.RegisterMaskField("api_key", "filled4")
}

func cloneStringMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}
