// Package listing defines the marketplace listing draft produced by the
// pipeline and the rules a draft must satisfy before it is published.
package listing

import (
	"math"
	"strings"
)

// ValidationOK is the validation result of a publishable draft.
const ValidationOK = "OK"

// Localized holds one field in both listing languages.
type Localized struct {
	UK string `json:"uk"`
	RU string `json:"ru"`
}

// LocalizedList holds a list field in both listing languages.
type LocalizedList struct {
	UK []string `json:"uk"`
	RU []string `json:"ru"`
}

// Dimensions are free-form measurements reported by market analysis.
type Dimensions struct {
	Length string `json:"length,omitempty"`
	Width  string `json:"width,omitempty"`
	Height string `json:"height,omitempty"`
	Weight string `json:"weight,omitempty"`
}

// Draft is the assembled listing.
type Draft struct {
	Title           Localized     `json:"title"`
	Description     Localized     `json:"description"`
	Keywords        LocalizedList `json:"keywords"`
	MetaTitle       Localized     `json:"metaTitle"`
	MetaDescription Localized     `json:"metaDescription"`
	Benefits        LocalizedList `json:"benefits"`

	Price    float64 `json:"price"`
	Currency string  `json:"currency"`

	Category             string     `json:"category,omitempty"`
	MeasureUnit          string     `json:"measureUnit,omitempty"`
	Availability         string     `json:"availability,omitempty"`
	MinimumOrderQuantity int        `json:"minimumOrderQuantity,omitempty"`
	Dimensions           Dimensions `json:"dimensions"`

	SeoURL    string   `json:"seoUrl"`
	ImageKeys []string `json:"imageKeys"`
	ImageURLs []string `json:"imageUrls,omitempty"`
	Caption   string   `json:"caption"`
	Language  string   `json:"language"`
}

// Validate checks the publishing rules and returns ValidationOK or the
// violations joined with "; ".
func Validate(d *Draft) string {
	var violations []string
	if strings.TrimSpace(d.Title.UK) == "" {
		violations = append(violations, "title is empty")
	}
	if strings.TrimSpace(d.Description.UK) == "" {
		violations = append(violations, "description is empty")
	}
	if len(d.ImageKeys) == 0 {
		violations = append(violations, "no images")
	}
	if d.Price <= 0 || math.IsNaN(d.Price) || math.IsInf(d.Price, 0) {
		violations = append(violations, "price must be greater than zero")
	}
	if !hasKeyword(d.Keywords.UK) {
		violations = append(violations, "no keywords")
	}
	if len(violations) == 0 {
		return ValidationOK
	}
	return strings.Join(violations, "; ")
}

func hasKeyword(keywords []string) bool {
	for _, k := range keywords {
		if strings.TrimSpace(k) != "" {
			return true
		}
	}
	return false
}
