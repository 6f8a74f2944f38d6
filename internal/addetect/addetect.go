// Package addetect flags feed posts that look like advertising.
package addetect

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Response texts returned alongside a Result.
const (
	ResponseAd    = "我不感兴趣"
	ResponseNotAd = "非广告内容"
)

// DefaultKeywords are typical promotion phrases in Chinese feed posts.
var DefaultKeywords = []string{
	"优惠", "折扣", "促销", "特价", "限时", "秒杀", "抢购",
	"免费领取", "转发抽奖", "添加微信", "扫码关注", "加群",
	"投资", "理财", "赚钱", "兼职", "副业", "日入", "月入",
	"代理", "加盟", "招商", "合伙人", "会员", "vip", "套餐",
	"咨询电话", "联系方式", "微信", "qq", "电话", "手机号",
	"网址", "链接", "网址是", "链接是", "点击查看", "点击链接",
	"扫码", "二维码", "长按识别", "识别二维码",
	"正品", "保证", "效果", "神奇", "有效", "彻底", "解决",
}

// Config extends the keyword list.
type Config struct {
	Keywords []string `yaml:"keywords"`
}

// Result is the outcome of Detect.
type Result struct {
	IsAd         bool     `json:"is_ad"`
	Confidence   float64  `json:"confidence"`
	Matched      []string `json:"matched_keywords"`
	ResponseText string   `json:"response_text"`
}

// Detector matches posts against a keyword list.
type Detector struct {
	keywords []string
}

// New creates a detector over the default keywords plus cfg.Keywords.
func New(cfg Config) *Detector {
	seen := make(map[string]bool)
	d := &Detector{}
	for _, k := range append(append([]string(nil), DefaultKeywords...), cfg.Keywords...) {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		d.keywords = append(d.keywords, k)
	}
	return d
}

// Detect scores text. A post is an advert when the confidence exceeds 0.3 or
// at least two keywords match.
func (d *Detector) Detect(text string) Result {
	lower := strings.ToLower(text)

	var matched []string
	for _, k := range d.keywords {
		if strings.Contains(lower, k) {
			matched = append(matched, k)
		}
	}

	var confidence float64
	if strings.TrimSpace(lower) != "" && len(d.keywords) > 0 {
		base := float64(len(matched)) / float64(len(d.keywords))
		density := float64(len(matched)) / math.Max(1, float64(utf8.RuneCountInString(lower))/10)
		confidence = math.Min(1, base*0.6+density*0.4)
	}

	r := Result{
		IsAd:       confidence > 0.3 || len(matched) >= 2,
		Confidence: confidence,
		Matched:    matched,
	}
	if r.IsAd {
		r.ResponseText = ResponseAd
	} else {
		r.ResponseText = ResponseNotAd
	}
	return r
}
