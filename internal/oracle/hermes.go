package oracle

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const latestUpdatesPath = "/v2/updates/price/latest"

// HermesOptions parameterise the Hermes price-service client.
type HermesOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Hermes fetches signed Pyth price updates from a Hermes endpoint.
type Hermes struct {
	opts    HermesOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewHermes constructs a Hermes client.
func NewHermes(opts HermesOptions, logger zerolog.Logger) *Hermes {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://hermes.pyth.network"
	}

	return &Hermes{
		opts:    opts,
		logger:  logger.With().Str("component", "hermes").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// LatestUpdates retrieves parsed quotes plus binary update payloads for the
// given feed ids.
func (h *Hermes) LatestUpdates(ctx context.Context, feedIDs []string) (*UpdateSet, error) {
	if len(feedIDs) == 0 {
		return nil, errors.New("at least one feed id required")
	}

	query := url.Values{}
	for _, id := range feedIDs {
		query.Add("ids[]", id)
	}
	query.Set("encoding", "hex")
	query.Set("parsed", "true")

	endpoint := h.baseURL + latestUpdatesPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var res latestUpdatesResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode hermes response: %w", err)
	}

	set := &UpdateSet{Quotes: make(map[string]PriceQuote, len(res.Parsed))}

	for _, data := range res.Binary.Data {
		raw, err := hex.DecodeString(strings.TrimPrefix(data, "0x"))
		if err != nil {
			return nil, fmt.Errorf("decode update payload: %w", err)
		}
		set.Payloads = append(set.Payloads, raw)
	}
	if len(set.Payloads) == 0 {
		return nil, errors.New("hermes returned no update payloads")
	}

	for _, p := range res.Parsed {
		quote, err := p.toQuote()
		if err != nil {
			return nil, err
		}
		set.Quotes[NormalizeFeedID(p.ID)] = quote
	}

	for _, id := range feedIDs {
		if _, ok := set.Quotes[NormalizeFeedID(id)]; !ok {
			return nil, fmt.Errorf("hermes response missing feed %s", id)
		}
	}

	return set, nil
}

// NormalizeFeedID strips the optional 0x prefix so ids compare regardless of
// how the config spells them.
func NormalizeFeedID(id string) string {
	return strings.ToLower(strings.TrimPrefix(id, "0x"))
}

type latestUpdatesResponse struct {
	Binary struct {
		Encoding string   `json:"encoding"`
		Data     []string `json:"data"`
	} `json:"binary"`
	Parsed []parsedFeed `json:"parsed"`
}

type parsedFeed struct {
	ID    string `json:"id"`
	Price struct {
		Price       string `json:"price"`
		Conf        string `json:"conf"`
		Expo        int32  `json:"expo"`
		PublishTime int64  `json:"publish_time"`
	} `json:"price"`
}

func (p parsedFeed) toQuote() (PriceQuote, error) {
	price, err := strconv.ParseInt(p.Price.Price, 10, 64)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("feed %s: parse price: %w", p.ID, err)
	}
	conf, err := strconv.ParseUint(p.Price.Conf, 10, 64)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("feed %s: parse conf: %w", p.ID, err)
	}
	return PriceQuote{
		ID:          NormalizeFeedID(p.ID),
		Price:       price,
		Confidence:  conf,
		Exponent:    p.Price.Expo,
		PublishTime: p.Price.PublishTime,
	}, nil
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"description"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("hermes error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("hermes error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("hermes error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("hermes error (%d)", status)
}

var _ Source = (*Hermes)(nil)
