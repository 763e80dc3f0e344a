package scrape

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxImages = 10

// Product is what could be read from one competitor page. Missing fields are
// left empty.
type Product struct {
	URL            string            `json:"url"`
	Title          string            `json:"title,omitempty"`
	Description    string            `json:"description,omitempty"`
	Price          float64           `json:"price,omitempty"`
	Currency       string            `json:"currency,omitempty"`
	Images         []string          `json:"images,omitempty"`
	Specifications map[string]string `json:"specifications,omitempty"`
	Dimensions     string            `json:"dimensions,omitempty"`
	Category       string            `json:"category,omitempty"`
	MeasureUnit    string            `json:"measureUnit,omitempty"`
	Availability   string            `json:"availability,omitempty"`
}

// Failure records a page that could not be scraped.
type Failure struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Scraper fetches and extracts product pages.
type Scraper struct {
	fetcher Fetcher
}

func NewScraper(fetcher Fetcher) *Scraper {
	return &Scraper{fetcher: fetcher}
}

// Scrape fetches pageURL and extracts its product facts.
func (s *Scraper) Scrape(ctx context.Context, pageURL string) (Product, error) {
	body, err := s.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return Product{}, err
	}
	return Extract(pageURL, body)
}

// A selector and the attribute holding the value; an empty attr means the
// element text.
type selector struct {
	css  string
	attr string
}

var (
	titleSelectors = []selector{
		{`meta[property="og:title"]`, "content"},
		{`[itemprop="name"]`, "content"},
		{`h1[itemprop="name"]`, ""},
		{`.product-title, .product__title, .product-name`, ""},
		{`h1`, ""},
		{`title`, ""},
	}
	descriptionSelectors = []selector{
		{`[itemprop="description"]`, "content"},
		{`[itemprop="description"]`, ""},
		{`meta[property="og:description"]`, "content"},
		{`meta[name="description"]`, "content"},
		{`.product-description, .product__description, #description`, ""},
	}
	priceSelectors = []selector{
		{`meta[property="product:price:amount"]`, "content"},
		{`meta[itemprop="price"]`, "content"},
		{`[itemprop="price"]`, "content"},
		{`[itemprop="price"]`, ""},
		{`[data-price]`, "data-price"},
		{`.product-price, .product__price, .price-current, .price`, ""},
		{`[class*="price"]`, ""},
	}
	currencySelectors = []selector{
		{`meta[property="product:price:currency"]`, "content"},
		{`[itemprop="priceCurrency"]`, "content"},
		{`[itemprop="priceCurrency"]`, ""},
	}
	imageSelectors = []selector{
		{`meta[property="og:image"]`, "content"},
		{`[itemprop="image"]`, "content"},
		{`[itemprop="image"]`, "src"},
		{`.product-gallery img, .product__gallery img, .gallery img`, "src"},
		{`.product img`, "src"},
	}
	categorySelectors = []selector{
		{`[itemprop="category"]`, "content"},
		{`[itemprop="category"]`, ""},
		{`meta[property="product:category"]`, "content"},
	}
	breadcrumbSelector = `[itemtype*="BreadcrumbList"] [itemprop="name"], .breadcrumbs a, .breadcrumb a, nav[aria-label="breadcrumb"] a`
	unitSelectors      = []selector{
		{`[itemprop="unitText"]`, "content"},
		{`[itemprop="unitText"]`, ""},
		{`.unit, .product-unit, [class*="measure"]`, ""},
	}
	availabilitySelectors = []selector{
		{`[itemprop="availability"]`, "href"},
		{`[itemprop="availability"]`, "content"},
		{`meta[property="product:availability"]`, "content"},
		{`.availability, .product-availability, [class*="stock"]`, ""},
	}
	specRowSelector = `.specifications tr, .characteristics tr, [class*="spec"] tr, [class*="character"] tr, table.product-attributes tr`

	dimensionKey = regexp.MustCompile(`(?i)(розмір|розміри|размер|размеры|габарит|dimension|size)`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// Extract reads product facts from an HTML page. Each field is taken from the
// first selector that yields a non-empty value.
func Extract(pageURL string, body []byte) (Product, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Product{}, fmt.Errorf("failed to parse html: %w", err)
	}

	p := Product{URL: pageURL}
	p.Title = first(doc, titleSelectors)
	p.Description = first(doc, descriptionSelectors)

	for _, sel := range priceSelectors {
		raw := value(doc.Find(sel.css).First(), sel.attr)
		if raw == "" {
			continue
		}
		if price, ok := ParsePrice(raw); ok && price > 0 {
			p.Price = price
			p.Currency = SniffCurrency(raw)
			break
		}
	}
	if cur := strings.ToUpper(first(doc, currencySelectors)); len(cur) == 3 {
		p.Currency = cur
	}

	p.Images = images(doc, pageURL)
	p.Specifications = specifications(doc)
	for k, v := range p.Specifications {
		if dimensionKey.MatchString(k) {
			p.Dimensions = v
			break
		}
	}

	p.Category = first(doc, categorySelectors)
	if p.Category == "" {
		p.Category = breadcrumbCategory(doc)
	}
	p.MeasureUnit = first(doc, unitSelectors)
	p.Availability = availability(first(doc, availabilitySelectors))

	if p.Title == "" && p.Price == 0 && p.Description == "" {
		return p, fmt.Errorf("no product data found on %s", pageURL)
	}
	return p, nil
}

func first(doc *goquery.Document, selectors []selector) string {
	for _, sel := range selectors {
		if v := value(doc.Find(sel.css).First(), sel.attr); v != "" {
			return v
		}
	}
	return ""
}

func value(s *goquery.Selection, attr string) string {
	if s.Length() == 0 {
		return ""
	}
	if attr == "" {
		return clean(s.Text())
	}
	v, _ := s.Attr(attr)
	return clean(v)
}

func clean(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func images(doc *goquery.Document, pageURL string) []string {
	base, _ := url.Parse(pageURL)
	seen := map[string]bool{}
	var out []string
	for _, sel := range imageSelectors {
		doc.Find(sel.css).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			src := value(s, sel.attr)
			if src == "" || strings.HasPrefix(src, "data:") {
				return true
			}
			if base != nil {
				if ref, err := url.Parse(src); err == nil {
					src = base.ResolveReference(ref).String()
				}
			}
			if !seen[src] {
				seen[src] = true
				out = append(out, src)
			}
			return len(out) < maxImages
		})
		if len(out) >= maxImages {
			break
		}
	}
	return out
}

func specifications(doc *goquery.Document) map[string]string {
	specs := map[string]string{}
	doc.Find(specRowSelector).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("th, td")
		if cells.Length() < 2 {
			return
		}
		key := clean(cells.Eq(0).Text())
		val := clean(cells.Eq(1).Text())
		if key != "" && val != "" {
			specs[key] = val
		}
	})
	doc.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		dl.Find("dt").Each(func(_ int, dt *goquery.Selection) {
			key := clean(dt.Text())
			val := clean(dt.NextFiltered("dd").Text())
			if key != "" && val != "" {
				specs[key] = val
			}
		})
	})
	if len(specs) == 0 {
		return nil
	}
	return specs
}

// The last breadcrumb is usually the product itself, so the category is the
// one before it.
func breadcrumbCategory(doc *goquery.Document) string {
	var crumbs []string
	doc.Find(breadcrumbSelector).Each(func(_ int, s *goquery.Selection) {
		if t := clean(s.Text()); t != "" {
			crumbs = append(crumbs, t)
		}
	})
	switch len(crumbs) {
	case 0:
		return ""
	case 1:
		return crumbs[0]
	}
	return crumbs[len(crumbs)-2]
}

// availability reduces schema.org URLs like https://schema.org/InStock to their
// last segment.
func availability(v string) string {
	if i := strings.LastIndex(v, "/"); i != -1 && strings.Contains(v, "schema.org") {
		return v[i+1:]
	}
	return v
}
