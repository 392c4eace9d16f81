package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cedros-basket/checkout/internal/httputil"
	"github.com/shopspring/decimal"
)

// jsonPathUpstream fetches a JSON document from URL and extracts a decimal
// quote from a single top-level field, given either as a JSON string or a
// JSON number. Fields nested under another key (such as a symbol key in an
// exchange ticker response) are not read.
type jsonPathUpstream struct {
	name   string
	url    string
	field  string
	client *http.Client
}

// NewHTTPUpstream builds an Upstream that GETs url and reads a top-level
// numeric or string field named field as the quote.
func NewHTTPUpstream(name, url, field string, timeout time.Duration) Upstream {
	return &jsonPathUpstream{
		name:   name,
		url:    url,
		field:  field,
		client: httputil.NewClient(timeout),
	}
}

func (u *jsonPathUpstream) Name() string { return u.name }

func (u *jsonPathUpstream) Quote(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.url, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("oracle: build request for %s: %w", u.name, err)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("oracle: request to %s failed: %w", u.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return decimal.Decimal{}, fmt.Errorf("oracle: %s rate limited (429)", u.name)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("oracle: %s returned status %d", u.name, resp.StatusCode)
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Decimal{}, fmt.Errorf("oracle: %s decode body: %w", u.name, err)
	}

	raw, ok := body[u.field]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("oracle: %s response missing field %q", u.name, u.field)
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return decimal.NewFromString(asString)
	}

	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err != nil {
		return decimal.Decimal{}, fmt.Errorf("oracle: %s field %q not numeric: %w", u.name, u.field, err)
	}
	return decimal.NewFromFloat(asNumber), nil
}

// chainedFXUpstream converts a USD-denominated quote to EUR via a second
// upstream supplying the EUR/USD rate, rejecting the FX leg if it falls
// outside the configured sanity band.
type chainedFXUpstream struct {
	name       string
	usdQuote   Upstream
	fxQuote    Upstream
	minEURUSD  float64
	maxEURUSD  float64
}

// NewChainedFXUpstream composes a USD-denominated price upstream with an
// EUR/USD FX upstream to derive a EUR-denominated quote.
func NewChainedFXUpstream(name string, usdQuote, fxQuote Upstream, minEURUSD, maxEURUSD float64) Upstream {
	return &chainedFXUpstream{name: name, usdQuote: usdQuote, fxQuote: fxQuote, minEURUSD: minEURUSD, maxEURUSD: maxEURUSD}
}

func (u *chainedFXUpstream) Name() string { return u.name }

func (u *chainedFXUpstream) Quote(ctx context.Context) (decimal.Decimal, error) {
	usd, err := u.usdQuote.Quote(ctx)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("oracle: %s usd leg: %w", u.name, err)
	}
	fx, err := u.fxQuote.Quote(ctx)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("oracle: %s fx leg: %w", u.name, err)
	}

	fxFloat := toFloat(fx)
	if fxFloat < u.minEURUSD || fxFloat > u.maxEURUSD {
		return decimal.Decimal{}, fmt.Errorf("oracle: %s fx rate %s outside sanity band [%.2f, %.2f]", u.name, fx.String(), u.minEURUSD, u.maxEURUSD)
	}

	return usd.Mul(fx), nil
}
