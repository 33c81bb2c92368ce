package oracle

import "context"

// UpdateSet bundles the parsed quotes and the signed binary update payloads
// for one fetch. Payloads are what the settlement contracts consume; quotes
// feed the client-side capacity math.
type UpdateSet struct {
	Quotes   map[string]PriceQuote
	Payloads [][]byte
}

// Source retrieves the latest signed price updates for a set of feed ids.
type Source interface {
	LatestUpdates(ctx context.Context, feedIDs []string) (*UpdateSet, error)
}
