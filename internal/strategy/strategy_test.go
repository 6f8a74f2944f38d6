package strategy_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/reply-gateway/internal/emotion"
	"github.com/compresr/reply-gateway/internal/history"
	"github.com/compresr/reply-gateway/internal/strategy"
	"github.com/compresr/reply-gateway/internal/tokens"
)

// =============================================================================
// STYLE PARSING
// =============================================================================

func TestParseStyle(t *testing.T) {
	tests := []struct {
		in   string
		want strategy.Style
	}{
		{"humorous", strategy.StyleHumorous},
		{"  Serious ", strategy.StyleSerious},
		{"AMBIGUOUS", strategy.StyleAmbiguous},
		{"warm", strategy.StyleWarm},
		{"critical", strategy.StyleCritical},
		{"幽默", strategy.StyleHumorous},
		{"严肃", strategy.StyleSerious},
		{"暧昧", strategy.StyleAmbiguous},
		{"温馨", strategy.StyleWarm},
		{"批评", strategy.StyleCritical},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := strategy.ParseStyle(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseStyle_Invalid(t *testing.T) {
	for _, in := range []string{"", "unknown", "funny", "humorous!"} {
		_, err := strategy.ParseStyle(in)
		assert.ErrorIs(t, err, strategy.ErrInvalidStyle, in)
	}
}

func TestStyle_RoundTripsThroughJSON(t *testing.T) {
	for _, s := range strategy.Styles() {
		raw, err := json.Marshal(s)
		require.NoError(t, err)

		var back strategy.Style
		require.NoError(t, json.Unmarshal(raw, &back))
		assert.Equal(t, s, back)
		assert.NotEmpty(t, s.Label())
	}

	_, err := json.Marshal(strategy.Style(0))
	assert.Error(t, err)
}

// =============================================================================
// CHOOSE
// =============================================================================

func historyOf(contents ...string) *history.ReplyHistory {
	h := &history.ReplyHistory{}
	for _, c := range contents {
		h.Records = append(h.Records, history.ReplyRecord{Content: c})
	}
	h.TotalCount = len(contents)
	return h
}

func TestChoose_FirstReplyIgnoresHistory(t *testing.T) {
	sel := strategy.NewSelector(strategy.Config{}, nil, 50)

	tmpl, err := sel.Choose(strategy.StyleHumorous, true, &history.ReplyHistory{})
	require.NoError(t, err)
	assert.Equal(t, strategy.KindFirstReply, tmpl.Kind)
	assert.Empty(t, tmpl.Tail)
	assert.Empty(t, tmpl.Summary)
	assert.Equal(t, 50, tmpl.MaxOutputChars)
}

func TestChoose_ContinuationCarriesSummaryAndTail(t *testing.T) {
	sel := strategy.NewSelector(strategy.Config{}, nil, 50)
	h := historyOf("第一条", "第二条")
	h.Summary = "之前一直在开玩笑"

	tmpl, err := sel.Choose(strategy.StyleWarm, false, h)
	require.NoError(t, err)
	assert.Equal(t, strategy.KindContinuation, tmpl.Kind)
	assert.Equal(t, "之前一直在开玩笑", tmpl.Summary)
	assert.Equal(t, []string{"第一条", "第二条"}, tmpl.Tail)
	assert.Zero(t, tmpl.Omitted)
}

func TestChoose_InvalidStyle(t *testing.T) {
	sel := strategy.NewSelector(strategy.Config{}, nil, 0)
	_, err := sel.Choose(strategy.Style(42), true, nil)
	assert.ErrorIs(t, err, strategy.ErrInvalidStyle)
}

func TestChoose_TokenBudgetKeepsNewest(t *testing.T) {
	// Each record costs 10 tokens; a budget of 25 fits the newest two.
	counter := tokens.CounterFunc(func(string) int { return 10 })
	sel := strategy.NewSelector(strategy.Config{MaxHistoryTokens: 25}, counter, 50)

	records := make([]string, 6)
	for i := range records {
		records[i] = fmt.Sprintf("r%d", i)
	}

	tmpl, err := sel.Choose(strategy.StyleSerious, false, historyOf(records...))
	require.NoError(t, err)
	assert.Equal(t, []string{"r4", "r5"}, tmpl.Tail)
	assert.Equal(t, 4, tmpl.Omitted)
}

func TestChoose_DoesNotMutateHistory(t *testing.T) {
	sel := strategy.NewSelector(strategy.Config{}, nil, 50)
	h := historyOf("a", "b", "c")
	before := h.Clone()

	_, err := sel.Choose(strategy.StyleCritical, false, h)
	require.NoError(t, err)
	assert.Equal(t, before, h)
}

// =============================================================================
// RENDER
// =============================================================================

func TestRender_FirstReply(t *testing.T) {
	sel := strategy.NewSelector(strategy.Config{}, nil, 50)
	tmpl, _ := sel.Choose(strategy.StyleHumorous, true, nil)

	p := tmpl.Render("今天天气真好！", emotion.Result{})
	assert.NotEmpty(t, p.System)
	assert.Contains(t, p.User, "今天天气真好！")
	assert.Contains(t, p.User, "humorous")
	assert.Contains(t, p.User, "幽默")
	assert.Contains(t, p.User, "50 characters")
	assert.NotContains(t, p.User, "do not repeat")
	assert.Equal(t, 50, p.MaxOutputChars)
}

func TestRender_Continuation(t *testing.T) {
	sel := strategy.NewSelector(strategy.Config{}, nil, 30)
	h := historyOf("哈哈太阳真大", "出门记得防晒")
	h.Summary = "聊过天气"
	tmpl, _ := sel.Choose(strategy.StyleWarm, false, h)

	p := tmpl.Render("今天天气真好！", emotion.Result{})
	assert.Contains(t, p.User, "聊过天气")
	assert.Contains(t, p.User, "1. 哈哈太阳真大")
	assert.Contains(t, p.User, "2. 出门记得防晒")
	assert.Contains(t, p.User, "do not repeat")
	assert.Contains(t, p.User, "30 characters")
}

func TestRender_EveryStyleHasTone(t *testing.T) {
	sel := strategy.NewSelector(strategy.Config{}, nil, 50)
	seen := map[string]bool{}
	for _, s := range strategy.Styles() {
		tmpl, err := sel.Choose(s, true, nil)
		require.NoError(t, err)
		p := tmpl.Render("post", emotion.Result{})
		assert.Contains(t, p.User, "Tone: ")
		seen[p.User] = true
	}
	assert.Len(t, seen, len(strategy.Styles()), "each style renders distinctly")
}

func TestRender_Emotion(t *testing.T) {
	sel := strategy.NewSelector(strategy.Config{}, nil, 50)
	tmpl, err := sel.Choose(strategy.StyleWarm, true, nil)
	require.NoError(t, err)

	tests := []struct {
		name     string
		post     string
		guidance string
	}{
		{"negative", "今天好难过", "offer appropriate comfort or support"},
		{"positive", "今天很开心", "share in the good mood"},
		{"neutral", "今天天气真好！", "If the post sounds sad"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mood := emotion.Analyze(tt.post)
			p := tmpl.Render(tt.post, mood)
			assert.Contains(t, p.User, "Emotion type: "+mood.Type)
			assert.Contains(t, p.User, fmt.Sprintf("Negativity score: %d/10", mood.NegativeScore))
			assert.Contains(t, p.User, "Description: "+mood.Description)
			assert.Contains(t, p.User, tt.guidance)
		})
	}
}

func TestRender_ZeroEmotionOmitted(t *testing.T) {
	sel := strategy.NewSelector(strategy.Config{}, nil, 50)
	tmpl, _ := sel.Choose(strategy.StyleWarm, true, nil)
	p := tmpl.Render("post", emotion.Result{})
	assert.NotContains(t, p.User, "emotion analysis")
}

func TestConfig_Validate(t *testing.T) {
	cfg := strategy.Config{}.WithDefaults()
	assert.Equal(t, strategy.DefaultMaxHistoryTokens, cfg.MaxHistoryTokens)
	assert.Equal(t, tokens.DefaultEncoding, cfg.Encoding)
	assert.NoError(t, cfg.Validate())

	assert.Error(t, strategy.Config{MaxHistoryTokens: -1}.Validate())
}
