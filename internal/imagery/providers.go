package imagery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"
)

// DefaultProviders returns the cascade in priority order: Google Custom Search
// (only when credentials are configured), Open Food Facts, then Wikipedia.
func DefaultProviders(cfg Config) []Provider {
	cfg = cfg.withDefaults()
	client := &http.Client{Timeout: cfg.ProviderTimeout}

	providers := make([]Provider, 0, 3)
	if cfg.GoogleEnabled() {
		providers = append(providers, &GoogleSearch{
			apiKey:    cfg.GoogleAPIKey,
			cx:        cfg.GoogleCX,
			endpoint:  cfg.GoogleURL,
			userAgent: cfg.UserAgent,
			client:    client,
		})
	}
	providers = append(providers,
		&OpenFoodFacts{
			endpoint:  cfg.OpenFoodFactsURL,
			userAgent: cfg.UserAgent,
			client:    client,
		},
		&Wikipedia{
			searchURL:  cfg.WikipediaAPIURL,
			summaryURL: strings.TrimRight(cfg.WikipediaSummaryURL, "/"),
			userAgent:  cfg.UserAgent,
			client:     client,
		},
	)
	return providers
}

// getJSON issues a GET and decodes a 2xx JSON body into out
func getJSON(ctx context.Context, client *http.Client, endpoint string, params url.Values, userAgent string, out any) error {
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, req.URL.Host)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", req.URL.Host, err)
	}
	return nil
}

// GoogleSearch queries the Custom Search JSON API in image mode
type GoogleSearch struct {
	apiKey    string
	cx        string
	endpoint  string
	userAgent string
	client    *http.Client
}

func (g *GoogleSearch) Name() string { return "google" }

// Search uses the full "name description" text
func (g *GoogleSearch) Search(ctx context.Context, q Query) Result {
	params := url.Values{}
	params.Set("key", g.apiKey)
	params.Set("cx", g.cx)
	params.Set("q", q.Text())
	params.Set("searchType", "image")
	params.Set("num", "1")
	params.Set("imgSize", "medium")
	params.Set("safe", "active")

	var body struct {
		Items []struct {
			Link string `json:"link"`
		} `json:"items"`
	}
	if err := getJSON(ctx, g.client, g.endpoint, params, g.userAgent, &body); err != nil {
		return unavailable(err)
	}
	if len(body.Items) == 0 || body.Items[0].Link == "" {
		return notFound()
	}
	return found(body.Items[0].Link)
}

// OpenFoodFacts searches the grocery product database by item name
type OpenFoodFacts struct {
	endpoint  string
	userAgent string
	client    *http.Client
}

func (o *OpenFoodFacts) Name() string { return "openfoodfacts" }

func (o *OpenFoodFacts) Search(ctx context.Context, q Query) Result {
	params := url.Values{}
	params.Set("search_terms", strings.TrimSpace(q.Name))
	params.Set("json", "1")
	params.Set("page_size", "1")
	params.Set("fields", "image_front_small_url")

	var body struct {
		Products []struct {
			ImageFrontSmallURL string `json:"image_front_small_url"`
		} `json:"products"`
	}
	if err := getJSON(ctx, o.client, o.endpoint, params, o.userAgent, &body); err != nil {
		return unavailable(err)
	}
	if len(body.Products) == 0 || body.Products[0].ImageFrontSmallURL == "" {
		return notFound()
	}
	return found(body.Products[0].ImageFrontSmallURL)
}

// wikipediaSearchLimit is how many titles are checked against the query words
const wikipediaSearchLimit = 5

// Wikipedia searches article titles and returns the page summary thumbnail
// of the first title that contains every significant query word.
type Wikipedia struct {
	searchURL  string
	summaryURL string
	userAgent  string
	client     *http.Client
}

func (w *Wikipedia) Name() string { return "wikipedia" }

func (w *Wikipedia) Search(ctx context.Context, q Query) Result {
	words := significantWords(q.Name)
	if len(words) == 0 {
		return notFound()
	}

	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "search")
	params.Set("srsearch", strings.TrimSpace(q.Name))
	params.Set("format", "json")
	params.Set("srlimit", fmt.Sprint(wikipediaSearchLimit))

	var search struct {
		Query struct {
			Search []struct {
				Title string `json:"title"`
			} `json:"search"`
		} `json:"query"`
	}
	if err := getJSON(ctx, w.client, w.searchURL, params, w.userAgent, &search); err != nil {
		return unavailable(err)
	}

	for _, hit := range search.Query.Search {
		if !titleContainsAll(hit.Title, words) {
			continue
		}

		var summary struct {
			Thumbnail struct {
				Source string `json:"source"`
			} `json:"thumbnail"`
		}
		if err := getJSON(ctx, w.client, w.summaryURL+"/"+url.PathEscape(hit.Title), nil, w.userAgent, &summary); err != nil {
			// a broken summary for one title does not rule out the next
			continue
		}
		if summary.Thumbnail.Source != "" {
			return found(summary.Thumbnail.Source)
		}
	}
	return notFound()
}

// significantWords lowercases the query and keeps words longer than two characters
func significantWords(query string) []string {
	var words []string
	for _, word := range strings.Fields(strings.ToLower(query)) {
		if utf8.RuneCountInString(word) > 2 {
			words = append(words, word)
		}
	}
	return words
}

// titleContainsAll reports whether every word is a substring of the lowercased title.
// "apple sauce" therefore rejects "Apple" but accepts "Applesauce (condiment)".
func titleContainsAll(title string, words []string) bool {
	title = strings.ToLower(title)
	for _, word := range words {
		if !strings.Contains(title, word) {
			return false
		}
	}
	return true
}
