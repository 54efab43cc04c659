package domain

import (
	"regexp"
	"strconv"
	"time"
)

// Project is a real-estate development and its description sections.
type Project struct {
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	CommonAreas  string    `json:"common_areas"`
	Typologies   string    `json:"typologies"`
	Construction string    `json:"construction"`
	Delivery     string    `json:"delivery"`
	Prices       string    `json:"prices"`
	PaymentPlans string    `json:"payment_plans"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// priceRe matches integer prices only. In "$1,200,000 USD" it only sees the
// trailing "000", which is ignored, so the default applies.
var priceRe = regexp.MustCompile(`(?i)(\d+)\s*(USD|dólares|dolares)`)

// MinPrice returns the smallest price in the price block, or def when none
// is found.
func (p *Project) MinPrice(def int64) int64 {
	var best int64
	for _, m := range priceRe.FindAllStringSubmatch(p.Prices, -1) {
		v, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || v <= 0 {
			continue
		}
		if best == 0 || v < best {
			best = v
		}
	}
	if best == 0 {
		return def
	}
	return best
}

// FAQEntry is a persisted question/answer pair.
type FAQEntry struct {
	Project  string `json:"project"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// GeneralFAQ is the namespace for questions not tied to a project.
const GeneralFAQ = "general"

// Download is a file a lead may request.
type Download struct {
	Project string `json:"project"`
	Name    string `json:"name"`
	URL     string `json:"url"`
}
