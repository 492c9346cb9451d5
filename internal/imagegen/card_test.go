package imagegen

import (
	"bytes"
	"image/png"
	"testing"
	"time"

	"github.com/lox/planti/internal/models"
)

func TestGeneratePlantCard(t *testing.T) {
	score := 72
	tests := []struct {
		name string
		data CardData
	}{
		{"scored with history", CardData{Name: "Monstera", Species: "Monstera deliciosa", Score: &score, Trend: models.TrendUp, History: []int{60, 65, 70, 72}}},
		{"never scored", CardData{Name: "Fern", Species: "Nephrolepis"}},
		{"single point", CardData{Name: "Cactus", Score: &score, History: []int{72}}},
		{"long name", CardData{Name: "A very long plant name that will not fit on the card", Score: &score, Trend: models.TrendDown}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := GeneratePlantCard(tt.data)
			if err != nil {
				t.Fatalf("GeneratePlantCard: %v", err)
			}
			img, err := png.Decode(bytes.NewReader(b))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got := img.Bounds(); got.Dx() != CardWidth || got.Dy() != CardHeight {
				t.Errorf("size = %dx%d, want %dx%d", got.Dx(), got.Dy(), CardWidth, CardHeight)
			}
		})
	}
}

func TestGeneratePlantCard_HistoryLongerThanSparkline(t *testing.T) {
	history := make([]int, 90)
	for i := range history {
		history[i] = i % 101
	}
	if _, err := GeneratePlantCard(CardData{Name: "Pothos", History: history}); err != nil {
		t.Fatalf("GeneratePlantCard: %v", err)
	}
}

func TestScoreColor(t *testing.T) {
	if ScoreColor(80) == ScoreColor(50) || ScoreColor(50) == ScoreColor(10) {
		t.Error("score bands should have distinct colours")
	}
	if ScoreColor(70) != ScoreColor(100) {
		t.Error("70 and 100 should share a band")
	}
}

func TestLastN(t *testing.T) {
	s := []int{1, 2, 3, 4, 5}
	if got := lastN(s, 3); len(got) != 3 || got[0] != 3 {
		t.Errorf("lastN = %v, want [3 4 5]", got)
	}
	if got := lastN(s, 10); len(got) != 5 {
		t.Errorf("lastN = %v, want all", got)
	}
}

func TestCardCache(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	c := NewCardCache(5 * time.Minute)
	c.now = func() time.Time { return now }

	if _, ok := c.Get(1); ok {
		t.Fatal("empty cache should miss")
	}

	c.Set(1, []byte("png"))
	if got, ok := c.Get(1); !ok || string(got) != "png" {
		t.Fatalf("Get = %q, %v; want hit", got, ok)
	}
	if _, ok := c.Get(2); ok {
		t.Error("other plant should miss")
	}

	now = now.Add(6 * time.Minute)
	if _, ok := c.Get(1); ok {
		t.Error("expired entry should miss")
	}
	if n := len(c.entries); n != 0 {
		t.Errorf("expired entry still held after Get: %d entries", n)
	}

	c.Set(1, []byte("png"))
	c.Invalidate(1)
	if _, ok := c.Get(1); ok {
		t.Error("invalidated entry should miss")
	}
}
