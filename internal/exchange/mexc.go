package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"spot-dca-bot-go/internal/models"

	"go.uber.org/zap"
)

// MEXCExchange talks to the MEXC spot v3 API. Signed endpoints carry an HMAC
// SHA256 signature over the encoded query string plus a millisecond
// timestamp, sent with the X-MEXC-APIKEY header.
type MEXCExchange struct {
	apiKey        string
	secretKey     string
	baseURL       string
	quoteCurrency string
	httpClient    *http.Client
	logger        *zap.SugaredLogger
}

// NewMEXCExchange creates a MEXC spot connector.
func NewMEXCExchange(apiKey, secretKey, baseURL, quoteCurrency string, logger *zap.SugaredLogger) *MEXCExchange {
	return &MEXCExchange{
		apiKey:        apiKey,
		secretKey:     secretKey,
		baseURL:       baseURL,
		quoteCurrency: quoteCurrency,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		logger:        logger,
	}
}

func (e *MEXCExchange) Name() string          { return "mexc" }
func (e *MEXCExchange) QuoteCurrency() string { return e.quoteCurrency }

func (e *MEXCExchange) pair(symbol string) string {
	return symbol + e.quoteCurrency
}

func (e *MEXCExchange) sign(data string) string {
	h := hmac.New(sha256.New, []byte(e.secretKey))
	h.Write([]byte(data))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// doRequest sends one request to the MEXC API. Signed requests get a
// timestamp, recvWindow and signature appended to the query.
func (e *MEXCExchange) doRequest(ctx context.Context, method, endpoint string, params url.Values, signed bool) ([]byte, error) {
	queryParams := url.Values{}
	for k, v := range params {
		queryParams[k] = v
	}

	var encodedParams string
	if signed {
		queryParams.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		queryParams.Set("recvWindow", "5000")
		payloadToSign := queryParams.Encode()
		encodedParams = fmt.Sprintf("%s&signature=%s", payloadToSign, e.sign(payloadToSign))
	} else {
		encodedParams = queryParams.Encode()
	}

	fullURL := e.baseURL + endpoint
	if encodedParams != "" {
		fullURL = fmt.Sprintf("%s?%s", fullURL, encodedParams)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if signed {
		req.Header.Set("X-MEXC-APIKEY", e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &models.APIError{Status: resp.StatusCode, Msg: string(body)}
		var parsed struct {
			Code int64  `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &parsed) == nil && parsed.Msg != "" {
			apiErr.Code = parsed.Code
			apiErr.Msg = parsed.Msg
		}
		return nil, apiErr
	}

	return body, nil
}

// GetPrice returns the last traded price for the base/quote pair.
func (e *MEXCExchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", e.pair(symbol))
	data, err := e.doRequest(ctx, http.MethodGet, "/api/v3/ticker/price", params, false)
	if err != nil {
		return 0, err
	}

	var ticker struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(data, &ticker); err != nil {
		return 0, fmt.Errorf("parse ticker: %w", err)
	}
	return strconv.ParseFloat(ticker.Price, 64)
}

// GetBalances returns a currency -> available amount mapping.
func (e *MEXCExchange) GetBalances(ctx context.Context) (map[string]float64, error) {
	data, err := e.doRequest(ctx, http.MethodGet, "/api/v3/account", nil, true)
	if err != nil {
		return nil, err
	}

	var account struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}

	balances := make(map[string]float64, len(account.Balances))
	for _, b := range account.Balances {
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil {
			continue
		}
		balances[b.Asset] = free
	}
	return balances, nil
}

// PlaceMarketOrder submits a MARKET order. BUY orders are sized by quote
// amount (quoteOrderQty), SELL orders by base quantity.
func (e *MEXCExchange) PlaceMarketOrder(ctx context.Context, req models.OrderRequest) (*models.FillResult, error) {
	params := url.Values{}
	params.Set("symbol", e.pair(req.Symbol))
	params.Set("side", string(req.Side))
	params.Set("type", "MARKET")
	params.Set("newOrderRespType", "FULL")
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	if req.Side == models.Buy {
		if req.QuoteAmount <= 0 {
			return nil, &models.APIError{Status: 400, Msg: "quote amount required for BUY"}
		}
		params.Set("quoteOrderQty", fmt.Sprintf("%.2f", req.QuoteAmount))
	} else {
		if req.BaseAmount <= 0 {
			return nil, &models.APIError{Status: 400, Msg: "base amount required for SELL"}
		}
		params.Set("quantity", strconv.FormatFloat(req.BaseAmount, 'f', -1, 64))
	}

	data, err := e.doRequest(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return nil, err
	}

	var order struct {
		OrderID     json.Number `json:"orderId"`
		ExecutedQty string      `json:"executedQty"`
		CumQuoteQty string      `json:"cummulativeQuoteQty"`
	}
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("parse order response: %w", err)
	}

	executed, _ := strconv.ParseFloat(order.ExecutedQty, 64)
	quoteSpent, _ := strconv.ParseFloat(order.CumQuoteQty, 64)

	fill := &models.FillResult{
		Symbol:     req.Symbol,
		Side:       req.Side,
		Amount:     executed,
		QuoteSpent: quoteSpent,
		OrderID:    order.OrderID.String(),
	}
	if executed > 0 && quoteSpent > 0 {
		fill.Price = quoteSpent / executed
	} else {
		// Fill details not reported; fall back to the caller's reference.
		fill.Price = req.PriceHint
		if req.Side == models.Buy && fill.Price > 0 {
			fill.Amount = req.QuoteAmount / fill.Price
			fill.QuoteSpent = req.QuoteAmount
		} else if req.Side == models.Sell {
			fill.Amount = req.BaseAmount
			fill.QuoteSpent = req.BaseAmount * fill.Price
		}
	}
	return fill, nil
}

// Close releases network resources. The plain HTTP client needs none.
func (e *MEXCExchange) Close() error { return nil }
