package emotion_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/compresr/reply-gateway/internal/emotion"
)

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantType string
		score    int
	}{
		{"sad", "今天好难过", emotion.TypeNegative, 7},
		{"heartbroken", "真的很伤心", emotion.TypeNegative, 7},
		{"unhappy wins over happy", "一点都不开心", emotion.TypeNegative, 7},
		{"happy", "今天很开心", emotion.TypePositive, 2},
		{"glad", "好高兴见到你们", emotion.TypePositive, 2},
		{"joy", "周末快乐", emotion.TypePositive, 2},
		{"angry", "太生气了", emotion.TypeNegative, 8},
		{"furious", "让人愤怒", emotion.TypeNegative, 8},
		{"annoyed", "好烦啊", emotion.TypeNegative, 8},
		{"thanks", "谢谢大家的祝福", emotion.TypePositive, 1},
		{"grateful", "感谢一路有你", emotion.TypePositive, 1},
		{"stress", "最近压力好大", emotion.TypeNegative, 6},
		{"tired", "加班好累", emotion.TypeNegative, 6},
		{"exhausted", "身心疲惫", emotion.TypeNegative, 6},
		{"neutral", "今天天气真好！", emotion.TypeNeutral, 4},
		{"empty", "", emotion.TypeNeutral, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := emotion.Analyze(tt.text)
			assert.Equal(t, tt.wantType, r.Type)
			assert.Equal(t, tt.score, r.NegativeScore)
			assert.NotEmpty(t, r.Description)
			assert.False(t, r.IsZero())
		})
	}
}

func TestAnalyze_FirstRuleWins(t *testing.T) {
	// Sadness is checked before happiness.
	r := emotion.Analyze("开心又难过")
	assert.Equal(t, 7, r.NegativeScore)
}

func TestResult_Polarity(t *testing.T) {
	assert.True(t, emotion.Analyze("难过").Negative())
	assert.False(t, emotion.Analyze("难过").Positive())
	assert.True(t, emotion.Analyze("开心").Positive())
	assert.False(t, emotion.Neutral.Negative())
	assert.False(t, emotion.Neutral.Positive())
	assert.False(t, emotion.Result{}.Positive())
	assert.True(t, emotion.Result{}.IsZero())
}
