package publish

import "github.com/raine/listing-pipeline/internal/listing"

// Payload is the JSON body sent to the marketplace.
type Payload struct {
	NameUK               string             `json:"name_uk"`
	NameRU               string             `json:"name_ru"`
	DescriptionUK        string             `json:"description_uk"`
	DescriptionRU        string             `json:"description_ru"`
	KeywordsUK           []string           `json:"keywords_uk"`
	KeywordsRU           []string           `json:"keywords_ru"`
	MetaTitleUK          string             `json:"meta_title_uk"`
	MetaTitleRU          string             `json:"meta_title_ru"`
	MetaDescriptionUK    string             `json:"meta_description_uk"`
	MetaDescriptionRU    string             `json:"meta_description_ru"`
	BenefitsUK           []string           `json:"benefits_uk,omitempty"`
	BenefitsRU           []string           `json:"benefits_ru,omitempty"`
	Price                float64            `json:"price"`
	Currency             string             `json:"currency"`
	Category             string             `json:"category,omitempty"`
	MeasureUnit          string             `json:"measure_unit,omitempty"`
	Availability         string             `json:"availability,omitempty"`
	MinimumOrderQuantity int                `json:"minimum_order_quantity,omitempty"`
	Dimensions           listing.Dimensions `json:"dimensions"`
	SeoURL               string             `json:"seo_url"`
	Images               []string           `json:"images"`
}

// NewPayload flattens a draft. Presigned image URLs are preferred over keys
// when the draft has them.
func NewPayload(d *listing.Draft) Payload {
	images := d.ImageKeys
	if len(d.ImageURLs) == len(d.ImageKeys) && len(d.ImageURLs) > 0 {
		images = d.ImageURLs
	}
	return Payload{
		NameUK:               d.Title.UK,
		NameRU:               d.Title.RU,
		DescriptionUK:        d.Description.UK,
		DescriptionRU:        d.Description.RU,
		KeywordsUK:           d.Keywords.UK,
		KeywordsRU:           d.Keywords.RU,
		MetaTitleUK:          d.MetaTitle.UK,
		MetaTitleRU:          d.MetaTitle.RU,
		MetaDescriptionUK:    d.MetaDescription.UK,
		MetaDescriptionRU:    d.MetaDescription.RU,
		BenefitsUK:           d.Benefits.UK,
		BenefitsRU:           d.Benefits.RU,
		Price:                d.Price,
		Currency:             d.Currency,
		Category:             d.Category,
		MeasureUnit:          d.MeasureUnit,
		Availability:         d.Availability,
		MinimumOrderQuantity: d.MinimumOrderQuantity,
		Dimensions:           d.Dimensions,
		SeoURL:               d.SeoURL,
		Images:               images,
	}
}
