package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateUUIDWithSuffix(t *testing.T) {
	module := "ent"
	id := GenerateUUIDWithSuffix(module)
	assert.True(t, strings.HasPrefix(id, module+"_"))
	assert.NotEqual(t, id, GenerateUUIDWithSuffix(module))
}

func TestCanonicalQueueName(t *testing.T) {
	assert.Equal(t, "coffee", CanonicalQueueName("Coffee"))
	assert.Equal(t, "coffee", CanonicalQueueName("  COFFEE "))
	assert.Equal(t, CanonicalQueueName("Straße"), CanonicalQueueName("STRASSE"))
}

func TestValidateQueueName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "simple", input: "Coffee"},
		{name: "with separators", input: "bar-tab_2.0"},
		{name: "empty", input: "   ", wantErr: ErrEmptyQueueName},
		{name: "too long", input: strings.Repeat("a", 65), wantErr: ErrQueueNameTooLong},
		{name: "braces", input: "co{ffee}", wantErr: ErrQueueNameChars},
		{name: "slash", input: "a/b", wantErr: ErrQueueNameChars},
		{name: "leading dash", input: "-coffee", wantErr: ErrQueueNameChars},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQueueName(tt.input)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNowMillis(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, ts.UnixNano()/int64(time.Millisecond), NowMillis(ts))
}

func TestHashReference(t *testing.T) {
	a := HashReference("lnbc1...a")
	assert.Len(t, a, 32)
	assert.Equal(t, a, HashReference("lnbc1...a"))
	assert.NotEqual(t, a, HashReference("lnbc1...b"))
}

func TestArchivedEntryWaitedMillis(t *testing.T) {
	a := ArchivedEntry{Entry: Entry{AdmittedAt: 1_000}, ServedAt: 61_000}
	assert.Equal(t, int64(60_000), a.WaitedMillis())

	skewed := ArchivedEntry{Entry: Entry{AdmittedAt: 5_000}, ServedAt: 4_000}
	assert.Equal(t, int64(0), skewed.WaitedMillis())
}

func TestQueueRecordSumScores(t *testing.T) {
	rec := NewQueueRecord("coffee", "Coffee", "alice@example.com", 1)
	assert.True(t, rec.Active)
	assert.Equal(t, int64(0), rec.SumScores())

	rec.CurrentEntries["a"] = Entry{ID: "a", Score: 100}
	rec.CurrentEntries["b"] = Entry{ID: "b", Score: 21}
	assert.Equal(t, int64(121), rec.SumScores())
}
