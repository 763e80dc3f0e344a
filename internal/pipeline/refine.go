package pipeline

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/raine/listing-pipeline/internal/llm"
	"github.com/raine/listing-pipeline/internal/scrape"
	"github.com/raine/listing-pipeline/internal/stage"
	"github.com/raine/listing-pipeline/internal/translit"
)

// DefaultCurrency is used when neither the market analysis nor the request
// names one.
const DefaultCurrency = "UAH"

type RefineInput struct {
	Title      string
	MarketJSON json.RawMessage
	Keys       []string
	Currency   string
}

// Refined is the bilingual listing content.
type Refined struct {
	NameUK            string   `json:"nameUk"`
	NameRU            string   `json:"nameRu"`
	DescriptionUK     string   `json:"descriptionUk"`
	DescriptionRU     string   `json:"descriptionRu"`
	KeywordsUK        []string `json:"keywordsUk"`
	KeywordsRU        []string `json:"keywordsRu"`
	MetaTitleUK       string   `json:"metaTitleUk"`
	MetaTitleRU       string   `json:"metaTitleRu"`
	MetaDescriptionUK string   `json:"metaDescriptionUk"`
	MetaDescriptionRU string   `json:"metaDescriptionRu"`
	BenefitsUK        []string `json:"benefitsUk"`
	BenefitsRU        []string `json:"benefitsRu"`

	Price    float64  `json:"price"`
	Currency string   `json:"currency"`
	Keys     []string `json:"keys"`
	SeoURL   string   `json:"seoUrl"`
}

// Pricing is the price read from a market analysis.
type Pricing struct {
	Price    float64
	Currency string
}

// ParsePricing reads recommendedPrice and currency from a market analysis.
// recommendedPrice may be a number or a numeric string and defaults to 0;
// currency defaults to requested, then DefaultCurrency.
func ParsePricing(marketJSON json.RawMessage, requested string) Pricing {
	p := Pricing{Currency: strings.ToUpper(strings.TrimSpace(requested))}
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}

	var fields struct {
		RecommendedPrice json.RawMessage `json:"recommendedPrice"`
		Currency         json.RawMessage `json:"currency"`
	}
	if err := json.Unmarshal(marketJSON, &fields); err != nil {
		return p
	}

	if len(fields.RecommendedPrice) > 0 {
		var num float64
		var str string
		if err := json.Unmarshal(fields.RecommendedPrice, &num); err == nil {
			p.Price = num
		} else if err := json.Unmarshal(fields.RecommendedPrice, &str); err == nil {
			if v, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
				p.Price = v
			} else if v, ok := scrape.ParsePrice(str); ok {
				p.Price = v
			}
		}
	}
	if p.Price < 0 || math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
		p.Price = 0
	}

	var cur string
	if err := json.Unmarshal(fields.Currency, &cur); err == nil {
		if cur = strings.ToUpper(strings.TrimSpace(cur)); cur != "" {
			p.Currency = cur
		}
	}
	return p
}

// RefineStage writes the bilingual listing content.
type RefineStage struct {
	llm llm.Client
}

func NewRefineStage(client llm.Client) *RefineStage {
	return &RefineStage{llm: client}
}

func (s *RefineStage) Name() string { return "refine" }

func (s *RefineStage) Description() string {
	return "writes bilingual title, description, keywords and SEO fields"
}

type refineResponse struct {
	NameUK            looseString `json:"nameUk"`
	NameRU            looseString `json:"nameRu"`
	DescriptionUK     looseString `json:"descriptionUk"`
	DescriptionRU     looseString `json:"descriptionRu"`
	KeywordsUK        stringList  `json:"keywordsUk"`
	KeywordsRU        stringList  `json:"keywordsRu"`
	MetaTitleUK       looseString `json:"metaTitleUk"`
	MetaTitleRU       looseString `json:"metaTitleRu"`
	MetaDescriptionUK looseString `json:"metaDescriptionUk"`
	MetaDescriptionRU looseString `json:"metaDescriptionRu"`
	BenefitsUK        stringList  `json:"benefitsUk"`
	BenefitsRU        stringList  `json:"benefitsRu"`
}

func (s *RefineStage) Run(ctx context.Context, in RefineInput) stage.Result[Refined] {
	pricing := ParsePricing(in.MarketJSON, in.Currency)

	resp, err := s.llm.Complete(ctx, &llm.Request{
		Tag:    s.Name(),
		System: prompt(refineSystemPrompt),
		Messages: []llm.Message{llm.UserText(prompt(refineUserPrompt,
			in.Title, strconv.FormatFloat(pricing.Price, 'f', -1, 64), pricing.Currency, orEmpty(in.MarketJSON)))},
		Temperature: 0.5,
		Format:      llm.FormatJSON,
	})
	if err != nil {
		return stage.FromError[Refined](ctx, err, stage.KindUpstreamUnavailable, "refine llm call")
	}

	var r refineResponse
	if err := decodeObject(resp.Text, &r); err != nil {
		return stage.FailRaw[Refined](stage.KindMalformedResponse, resp.Text, "invalid refine response: %v", err)
	}

	refined := Refined{
		NameUK:            string(r.NameUK),
		NameRU:            string(r.NameRU),
		DescriptionUK:     string(r.DescriptionUK),
		DescriptionRU:     string(r.DescriptionRU),
		KeywordsUK:        r.KeywordsUK,
		KeywordsRU:        r.KeywordsRU,
		MetaTitleUK:       string(r.MetaTitleUK),
		MetaTitleRU:       string(r.MetaTitleRU),
		MetaDescriptionUK: string(r.MetaDescriptionUK),
		MetaDescriptionRU: string(r.MetaDescriptionRU),
		BenefitsUK:        r.BenefitsUK,
		BenefitsRU:        r.BenefitsRU,
	}
	if refined.NameUK == "" {
		refined.NameUK = strings.TrimSpace(in.Title)
	}
	return stage.Ok(FinishRefined(refined, pricing, in.Keys))
}

// FinishRefined applies the deterministic post-processing: Russian fields the
// model left empty are filled from the Ukrainian ones, the SEO URL is derived
// from the Ukrainian name, and price and keys are attached.
func FinishRefined(r Refined, pricing Pricing, keys []string) Refined {
	fillRU(&r.NameRU, r.NameUK)
	fillRU(&r.DescriptionRU, r.DescriptionUK)
	fillRU(&r.MetaTitleRU, r.MetaTitleUK)
	fillRU(&r.MetaDescriptionRU, r.MetaDescriptionUK)
	if len(r.KeywordsRU) == 0 {
		r.KeywordsRU = ukListToRu(r.KeywordsUK)
	}
	if len(r.BenefitsRU) == 0 {
		r.BenefitsRU = ukListToRu(r.BenefitsUK)
	}

	r.SeoURL = translit.Slugify(r.NameUK)
	r.Price = pricing.Price
	r.Currency = pricing.Currency
	r.Keys = append([]string(nil), keys...)
	return r
}

func fillRU(ru *string, uk string) {
	if strings.TrimSpace(*ru) == "" {
		*ru = translit.UkToRu(uk)
	}
}

func ukListToRu(uk []string) []string {
	if len(uk) == 0 {
		return nil
	}
	out := make([]string, len(uk))
	for i, s := range uk {
		out[i] = translit.UkToRu(s)
	}
	return out
}
