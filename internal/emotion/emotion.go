// Package emotion classifies the mood of a feed post with keyword rules.
//
// Scores run from 1 to 10, higher meaning more negative:
//   - 1-3:  positive
//   - 4-5:  neutral or mild
//   - 6-8:  clearly negative
//   - 9-10: strongly negative
package emotion

import "strings"

// Emotion types.
const (
	TypePositive = "积极"
	TypeNeutral  = "中性"
	TypeNegative = "消极"
)

// Score thresholds used by Negative and Positive.
const (
	NegativeThreshold = 6
	PositiveThreshold = 3
)

// Result is the outcome of Analyze.
type Result struct {
	Type          string `json:"emotion_type"`
	NegativeScore int    `json:"negative_score"`
	Description   string `json:"emotion_description"`
}

// IsZero reports whether r was never filled in.
func (r Result) IsZero() bool {
	return r.Type == ""
}

// Negative reports a clearly negative mood.
func (r Result) Negative() bool {
	return r.NegativeScore >= NegativeThreshold
}

// Positive reports a positive mood.
func (r Result) Positive() bool {
	return r.NegativeScore > 0 && r.NegativeScore <= PositiveThreshold
}

type rule struct {
	keywords []string
	result   Result
}

// rules are checked in order; the first rule with a matching keyword wins.
var rules = []rule{
	{[]string{"难过", "伤心", "不开心"}, Result{TypeNegative, 7, "表达了悲伤或不开心的情绪"}},
	{[]string{"开心", "高兴", "快乐"}, Result{TypePositive, 2, "表达了愉悦或开心的情绪"}},
	{[]string{"生气", "愤怒", "烦"}, Result{TypeNegative, 8, "表达了愤怒或烦躁的情绪"}},
	{[]string{"谢谢", "感谢"}, Result{TypePositive, 1, "表达了感激的情绪"}},
	{[]string{"压力", "累", "疲惫"}, Result{TypeNegative, 6, "表达了压力或疲惫的情绪"}},
}

// Neutral is returned when no rule matches.
var Neutral = Result{TypeNeutral, 4, "情绪较为平静，没有明显的积极或消极倾向"}

// Analyze classifies text.
func Analyze(text string) Result {
	for _, r := range rules {
		for _, k := range r.keywords {
			if strings.Contains(text, k) {
				return r.result
			}
		}
	}
	return Neutral
}
