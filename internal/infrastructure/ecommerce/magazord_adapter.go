package ecommerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neese/crmsync/internal/domain/relay"
)

// maxResponseSize is the maximum allowed response size from the Magazord API (10MB)
const maxResponseSize = 10 * 1024 * 1024

// errNotFound marks a 404 from a lookup endpoint; callers turn it into a nil record
var errNotFound = errors.New("magazord: resource not found")

// MagazordAdapter reads carts, orders, persons, tracking and payments from the
// Magazord v2 API. It implements relay.SourceReader and relay.PersonResolver.
type MagazordAdapter struct {
	config     *MagazordConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewMagazordAdapter creates a new Magazord adapter with the given configuration
func NewMagazordAdapter(config *MagazordConfig, logger *zap.Logger) (*MagazordAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &MagazordAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger.Named("magazord"),
	}, nil
}

// ---------------------------------------------------------------------------
// Lists
// ---------------------------------------------------------------------------

// FetchCarts returns carts updated within [start, end]. The cart endpoint
// expects naive Brasília timestamps. Carts listed without items get their
// lines from the items endpoint; a failed lookup leaves the cart without items.
func (a *MagazordAdapter) FetchCarts(ctx context.Context, start, end time.Time) ([]relay.CartRecord, error) {
	params := url.Values{}
	params.Set("dataAtualizacaoInicio", formatCartWindow(start))
	params.Set("dataAtualizacaoFim", formatCartWindow(end))

	var wire []MagazordCart
	err := a.list(ctx, "/v2/site/carrinho", params, func(raw json.RawMessage) error {
		var page []MagazordCart
		if err := json.Unmarshal(raw, &page); err != nil {
			return err
		}
		wire = append(wire, page...)
		return nil
	})
	if err != nil && !errors.Is(err, relay.ErrSourceTruncated) {
		return nil, err
	}

	carts := make([]relay.CartRecord, len(wire))
	for i := range wire {
		carts[i] = wire[i].ToDomain()
	}
	a.fillCartItems(ctx, carts)

	a.logger.Debug("Fetched carts",
		zap.Int("count", len(carts)),
		zap.String("from", params.Get("dataAtualizacaoInicio")),
		zap.String("to", params.Get("dataAtualizacaoFim")),
	)
	return carts, err
}

// fillCartItems looks up items for carts that were listed without them
func (a *MagazordAdapter) fillCartItems(ctx context.Context, carts []relay.CartRecord) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.ItemLookupConcurrency)

	for i := range carts {
		if len(carts[i].Items) > 0 || carts[i].ID == 0 {
			continue
		}
		cart := &carts[i]
		g.Go(func() error {
			items, err := a.FetchCartItems(gctx, cart.ID)
			if err != nil {
				a.logger.Warn("Cart items lookup failed",
					zap.Int64("cart_id", cart.ID),
					zap.Error(err),
				)
				return nil
			}
			cart.Items = items
			return nil
		})
	}
	_ = g.Wait()
}

// FetchCartItems returns the lines of a single cart
func (a *MagazordAdapter) FetchCartItems(ctx context.Context, cartID int64) ([]relay.LineItem, error) {
	body, err := a.doRequest(ctx, fmt.Sprintf("/v2/site/carrinho/%d/itens", cartID), nil)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// items come as data: [...], data: {items: [...]} or a bare array
	raw, err := unwrapData(body)
	if err != nil {
		return nil, err
	}
	var items []MagazordCartItem
	if err := json.Unmarshal(raw, &items); err != nil {
		var list magazordListResponse
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("%w: cart items: %v", relay.ErrSourceInvalidResponse, err)
		}
		if err := json.Unmarshal(orEmptyArray(list.rawItems()), &items); err != nil {
			return nil, fmt.Errorf("%w: cart items: %v", relay.ErrSourceInvalidResponse, err)
		}
	}
	return itemsToDomain(items), nil
}

// FetchOrders returns orders placed within [start, end]. The order endpoint
// expects Brasília timestamps carrying the -03:00 offset.
func (a *MagazordAdapter) FetchOrders(ctx context.Context, start, end time.Time) ([]relay.OrderRecord, error) {
	params := url.Values{}
	params.Set("dataHora[gte]", formatOrderWindow(start))
	params.Set("dataHora[lte]", formatOrderWindow(end))

	var orders []relay.OrderRecord
	err := a.list(ctx, "/v2/site/pedido", params, func(raw json.RawMessage) error {
		var page []MagazordOrder
		if err := json.Unmarshal(raw, &page); err != nil {
			return err
		}
		for i := range page {
			orders = append(orders, page[i].ToDomain())
		}
		return nil
	})
	if err != nil && !errors.Is(err, relay.ErrSourceTruncated) {
		return nil, err
	}

	a.logger.Debug("Fetched orders",
		zap.Int("count", len(orders)),
		zap.String("from", params.Get("dataHora[gte]")),
		zap.String("to", params.Get("dataHora[lte]")),
	)
	return orders, err
}

// list walks the pages of a list endpoint, handing each page's raw items to
// onPage. It stops on a short page or has_more=false; a full last page at
// MaxPages returns relay.ErrSourceTruncated after onPage has seen it.
func (a *MagazordAdapter) list(ctx context.Context, path string, params url.Values, onPage func(json.RawMessage) error) error {
	limit := a.config.PageLimit
	params.Set("limit", strconv.Itoa(limit))

	for page := 1; page <= a.config.MaxPages; page++ {
		params.Set("page", strconv.Itoa(page))

		body, err := a.doRequest(ctx, path, params)
		if err != nil {
			return err
		}

		var resp magazordListResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("%w: %s: %v", relay.ErrSourceInvalidResponse, path, err)
		}

		raw := orEmptyArray(resp.rawItems())
		var count []json.RawMessage
		if err := json.Unmarshal(raw, &count); err != nil {
			return fmt.Errorf("%w: %s: items is not a list: %v", relay.ErrSourceInvalidResponse, path, err)
		}
		if err := onPage(raw); err != nil {
			return fmt.Errorf("%w: %s: %v", relay.ErrSourceInvalidResponse, path, err)
		}

		if len(count) < limit || (resp.Data.HasMore != nil && !*resp.Data.HasMore) {
			return nil
		}
	}
	a.logger.Warn("Pagination limit reached, window truncated",
		zap.String("path", path),
		zap.Int("max_pages", a.config.MaxPages),
	)
	return fmt.Errorf("%w: %s: stopped after %d pages", relay.ErrSourceTruncated, path, a.config.MaxPages)
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

// ResolvePerson returns the storefront person, or nil when it does not exist
func (a *MagazordAdapter) ResolvePerson(ctx context.Context, id int64) (*relay.PersonRecord, error) {
	var wire MagazordPerson
	found, err := a.getObject(ctx, fmt.Sprintf("/v2/site/pessoa/%d", id), &wire)
	if err != nil || !found {
		return nil, err
	}
	person := wire.ToDomain()
	if person.ID == 0 {
		person.ID = id
	}
	return person, nil
}

// FetchShipment returns tracking data, or nil when the order has none
func (a *MagazordAdapter) FetchShipment(ctx context.Context, orderID int64) (*relay.ShipmentRecord, error) {
	var wire MagazordTracking
	found, err := a.getObject(ctx, fmt.Sprintf("/v2/site/pedido/%d/rastreio", orderID), &wire)
	if err != nil || !found {
		return nil, err
	}
	shipment := wire.ToDomain()
	if shipment.TrackingCode == "" && len(shipment.Events) == 0 {
		return nil, nil
	}
	return shipment, nil
}

// FetchPaymentDetail returns the first payment of the order, or nil when none exists
func (a *MagazordAdapter) FetchPaymentDetail(ctx context.Context, orderCode string) (*relay.PaymentInfo, error) {
	body, err := a.doRequest(ctx, fmt.Sprintf("/v2/site/pedido/%s/payments", url.PathEscape(orderCode)), nil)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var resp magazordListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: payments: %v", relay.ErrSourceInvalidResponse, err)
	}
	var payments []MagazordPayment
	if err := json.Unmarshal(orEmptyArray(resp.rawItems()), &payments); err != nil {
		return nil, fmt.Errorf("%w: payments: %v", relay.ErrSourceInvalidResponse, err)
	}
	if len(payments) == 0 {
		return nil, nil
	}
	return payments[0].ToDomain(), nil
}

// getObject fetches a single object endpoint into out; found is false on 404
func (a *MagazordAdapter) getObject(ctx context.Context, path string, out any) (bool, error) {
	body, err := a.doRequest(ctx, path, nil)
	if errors.Is(err, errNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	raw, err := unwrapData(body)
	if err != nil {
		return false, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("%w: %s: %v", relay.ErrSourceInvalidResponse, path, err)
	}
	return true, nil
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

// doRequest performs an authenticated GET and returns the body. Transport
// failures wrap relay.ErrSourceUnavailable, HTTP errors wrap
// relay.ErrSourceRequestFailed and 404 returns errNotFound.
func (a *MagazordAdapter) doRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := a.config.BaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("magazord: failed to create request: %w", err)
	}
	req.SetBasicAuth(a.config.Username, a.config.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", relay.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", relay.ErrSourceUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errNotFound
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s: HTTP %d", relay.ErrSourceUnavailable, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: %s: HTTP %d", relay.ErrSourceRequestFailed, path, resp.StatusCode)
	}

	return body, nil
}

// unwrapData returns the "data" member of an envelope, or the body itself
func unwrapData(body []byte) (json.RawMessage, error) {
	var env magazordObjectResponse
	if err := json.Unmarshal(body, &env); err != nil {
		// bare arrays are not envelopes
		var arr []json.RawMessage
		if json.Unmarshal(body, &arr) == nil {
			return body, nil
		}
		return nil, fmt.Errorf("%w: %v", relay.ErrSourceInvalidResponse, err)
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		return env.Data, nil
	}
	return body, nil
}

func orEmptyArray(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage("[]")
	}
	return raw
}

var (
	_ relay.SourceReader   = (*MagazordAdapter)(nil)
	_ relay.PersonResolver = (*MagazordAdapter)(nil)
)
