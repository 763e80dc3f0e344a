package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/raine/listing-pipeline/internal/listing"
	"github.com/rs/zerolog/log"
)

// marketFacts are the structured fields of a market analysis that go into the
// draft as-is.
type marketFacts struct {
	Category             looseString `json:"category"`
	MeasureUnit          looseString `json:"measureUnit"`
	Availability         looseString `json:"availability"`
	MinimumOrderQuantity looseInt    `json:"minimumOrderQuantity"`
	Dimensions           struct {
		Length looseString `json:"length"`
		Width  looseString `json:"width"`
		Height looseString `json:"height"`
		Weight looseString `json:"weight"`
	} `json:"dimensions"`
}

func parseMarketFacts(doc json.RawMessage) marketFacts {
	var f marketFacts
	if err := json.Unmarshal(doc, &f); err != nil {
		log.Debug().Err(err).Msg("market analysis has no usable facts")
		return marketFacts{}
	}
	return f
}

// assemble builds the draft from the refined content, the market facts and
// the current reference keys.
func (o *Orchestrator) assemble(ctx context.Context, r Refined, pc *Context, caption, language string) *listing.Draft {
	facts := parseMarketFacts(pc.Doc(DocMarket))
	keys := pc.Keys()

	d := &listing.Draft{
		Title:           listing.Localized{UK: r.NameUK, RU: r.NameRU},
		Description:     listing.Localized{UK: r.DescriptionUK, RU: r.DescriptionRU},
		Keywords:        listing.LocalizedList{UK: r.KeywordsUK, RU: r.KeywordsRU},
		MetaTitle:       listing.Localized{UK: r.MetaTitleUK, RU: r.MetaTitleRU},
		MetaDescription: listing.Localized{UK: r.MetaDescriptionUK, RU: r.MetaDescriptionRU},
		Benefits:        listing.LocalizedList{UK: r.BenefitsUK, RU: r.BenefitsRU},

		Price:    r.Price,
		Currency: r.Currency,

		Category:             string(facts.Category),
		MeasureUnit:          string(facts.MeasureUnit),
		Availability:         string(facts.Availability),
		MinimumOrderQuantity: int(facts.MinimumOrderQuantity),
		Dimensions: listing.Dimensions{
			Length: string(facts.Dimensions.Length),
			Width:  string(facts.Dimensions.Width),
			Height: string(facts.Dimensions.Height),
			Weight: string(facts.Dimensions.Weight),
		},

		SeoURL:    r.SeoURL,
		ImageKeys: keys,
		Caption:   caption,
		Language:  language,
	}
	d.ImageURLs = o.imageURLs(ctx, keys, o.imageURLTTL)
	return d
}

// imageURLs presigns every key. It returns nil unless all keys have a URL,
// since the publisher matches URLs to keys by position.
func (o *Orchestrator) imageURLs(ctx context.Context, keys []string, ttl time.Duration) []string {
	urls := make([]string, 0, len(keys))
	for _, k := range keys {
		url, err := o.blobs.PresignedURL(ctx, k, ttl)
		if err != nil {
			log.Warn().Err(err).Str("key", k).Msg("failed to presign image url")
			return nil
		}
		if url == "" {
			return nil
		}
		urls = append(urls, url)
	}
	return urls
}
