package rates

import (
	"context"
	"fmt"
	"strings"

	"FinScreen/internal/domain/models"
	drepo "FinScreen/internal/domain/repository"
	xhttp "FinScreen/pkg/http"

	"github.com/shopspring/decimal"
)

// Client reads spot FX rates from an exchangerate.host compatible endpoint:
// GET <url>?base=USD&symbols=INR -> {"rates":{"INR":83.12}}.
type Client struct {
	url  string
	http *xhttp.Client
}

var _ drepo.RateProvider = (*Client)(nil)

func NewClient(url string, client *xhttp.Client) *Client {
	return &Client{url: url, http: client}
}

type latestResponse struct {
	Success *bool                      `json:"success,omitempty"`
	Base    string                     `json:"base"`
	Rates   map[string]decimal.Decimal `json:"rates"`
}

// GetRate returns how many quote units one base unit buys.
func (c *Client) GetRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	base, quote = strings.ToUpper(base), strings.ToUpper(quote)
	if base == quote {
		return decimal.NewFromInt(1), nil
	}

	var resp latestResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		URL: c.url,
		QueryParams: map[string][]string{
			"base":    {base},
			"symbols": {quote},
		},
	}, &resp)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: rate %s/%s: %v", models.ErrTransport, base, quote, err)
	}
	if resp.Success != nil && !*resp.Success {
		return decimal.Zero, fmt.Errorf("%w: rate %s/%s: provider reported failure", models.ErrTransport, base, quote)
	}

	rate, ok := resp.Rates[quote]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: rate %s/%s missing from response", models.ErrParse, base, quote)
	}
	return rate, nil
}
