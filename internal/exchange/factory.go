package exchange

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Options configures a client built by NewClient.
type Options struct {
	// BaseURL overrides the public endpoint, mostly for tests.
	BaseURL    string
	HTTPClient *http.Client
	Depth      int
	Logger     *slog.Logger
	Now        func() time.Time
}

// NewClient creates a new exchange client based on the given name.
func NewClient(name string, opts Options) (Client, error) {
	switch strings.ToLower(name) {
	case "bitflyer":
		return NewBitflyerClient(opts), nil
	case "coincheck":
		return NewCoincheckClient(opts), nil
	case "bitbank":
		return NewBitbankClient(opts), nil
	case "kraken":
		return NewKrakenClient(opts), nil
	case "binance":
		return NewBinanceClient(opts), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExchange, name)
	}
}

// NewClients builds one client per name, failing on the first unknown one.
// endpoints maps a lower-cased exchange name to a BaseURL override.
func NewClients(names []string, endpoints map[string]string, opts Options) ([]Client, error) {
	clients := make([]Client, 0, len(names))
	for _, name := range names {
		o := opts
		if url, ok := endpoints[strings.ToLower(name)]; ok {
			o.BaseURL = url
		}
		c, err := NewClient(name, o)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, nil
}
