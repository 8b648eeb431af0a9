package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"ocobot/pkg/ratelimit"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	bybitBaseURL    = "https://api.bybit.com"
	bybitRecvWindow = "5000"
	bybitCategory   = "linear"
)

// Коды ответов Bybit v5, которые означают структурный отказ ордера
var bybitRejectCodes = map[int]bool{
	10001:  true, // ошибка параметров запроса
	110007: true, // недостаточно доступного баланса
	110017: true, // reduce-only ордер увеличил бы позицию / позиции нет
	110092: true, // trigger ниже текущей цены при ожидании роста
	110093: true, // trigger выше текущей цены при ожидании падения
	110094: true, // ордер не проходит проверку минимального номинала
}

// bybitOrderNotExists - ордера нет или отменять уже поздно
const bybitOrderNotExists = 110001

// ErrOrderNotFound - биржа не знает ордер с таким id
var ErrOrderNotFound = errors.New("order not found")

// BybitConfig - параметры подключения к Bybit
type BybitConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string // пусто = production
	RateLimit float64
}

// Bybit реализует Gateway для деривативов Bybit (категория linear)
//
// Защитные ноги размещаются как условные рыночные reduce-only ордера
// (triggerPrice + triggerDirection), вход и закрытие - рыночные IOC ордера.
type Bybit struct {
	apiKey    string
	secretKey string
	baseURL   string

	httpClient *http.Client
	limits     *ratelimit.Group
}

// NewBybit создает новый экземпляр Bybit
func NewBybit(cfg BybitConfig) *Bybit {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = bybitBaseURL
	}
	return &Bybit{
		apiKey:     cfg.APIKey,
		secretKey:  cfg.APISecret,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: NewHTTPClient(DefaultHTTPClientConfig()),
		limits: ratelimit.NewGroup(map[ratelimit.Category]ratelimit.Limit{
			ratelimit.CategoryTrade: {RPS: cfg.RateLimit, Burst: int(cfg.RateLimit * 2)},
			ratelimit.CategoryQuery: {RPS: cfg.RateLimit * 2, Burst: int(cfg.RateLimit * 4)},
		}),
	}
}

func (b *Bybit) GetName() string {
	return "bybit"
}

// sign создает подпись для запроса к Bybit API v5
func (b *Bybit) sign(timestamp string, params string) string {
	message := timestamp + b.apiKey + bybitRecvWindow + params
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest выполняет подписанный HTTP запрос к Bybit API
func (b *Bybit) doRequest(ctx context.Context, cat ratelimit.Category, method, endpoint string, params map[string]interface{}) ([]byte, error) {
	if err := b.limits.Wait(ctx, cat); err != nil {
		return nil, err
	}

	var reqBody string
	reqURL := b.baseURL + endpoint

	if method == http.MethodGet {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		query := url.Values{}
		for _, k := range keys {
			query.Set(k, fmt.Sprint(params[k]))
		}
		reqBody = query.Encode()
		if reqBody != "" {
			reqURL += "?" + reqBody
		}
	} else if len(params) > 0 {
		jsonBytes, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		reqBody = string(jsonBytes)
	}

	var bodyReader io.Reader
	if method != http.MethodGet {
		bodyReader = strings.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-SIGN", b.sign(timestamp, reqBody))
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &ExchangeError{Exchange: "bybit", Message: "request failed", Original: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExchangeError{Exchange: "bybit", Message: "read response", Original: err}
	}

	if resp.StatusCode >= 500 {
		return nil, &ExchangeError{
			Exchange: "bybit",
			Code:     strconv.Itoa(resp.StatusCode),
			Message:  "server error: " + resp.Status,
		}
	}

	var baseResp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &baseResp); err != nil {
		return nil, &ExchangeError{Exchange: "bybit", Message: "decode response", Original: err}
	}

	if baseResp.RetCode != 0 {
		if bybitRejectCodes[baseResp.RetCode] {
			return nil, &RejectionError{
				Exchange: "bybit",
				Code:     strconv.Itoa(baseResp.RetCode),
				Reason:   baseResp.RetMsg,
			}
		}
		return nil, &ExchangeError{
			Exchange: "bybit",
			Code:     strconv.Itoa(baseResp.RetCode),
			Message:  baseResp.RetMsg,
		}
	}

	return body, nil
}

func bybitSide(side string) string {
	if side == SideSell {
		return "Sell"
	}
	return "Buy"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// PlaceOrder размещает рыночный или условный ордер
func (b *Bybit) PlaceOrder(ctx context.Context, spec OrderSpec) (*Order, error) {
	params := map[string]interface{}{
		"category":  bybitCategory,
		"symbol":    spec.Symbol,
		"side":      bybitSide(spec.Side),
		"orderType": "Market",
		"qty":       formatFloat(spec.Quantity),
	}
	if spec.ClientOrderID != "" {
		params["orderLinkId"] = spec.ClientOrderID
	}
	if spec.ReduceOnly {
		params["reduceOnly"] = true
	}

	switch spec.Type {
	case OrderTypeMarket:
		params["timeInForce"] = "IOC"
	case OrderTypeConditional:
		if spec.TriggerPrice <= 0 || spec.Direction == TriggerNone {
			return nil, &RejectionError{Exchange: "bybit", Reason: "conditional order requires trigger price and direction"}
		}
		params["triggerPrice"] = formatFloat(spec.TriggerPrice)
		params["triggerDirection"] = int(spec.Direction)
		params["triggerBy"] = "MarkPrice"
	default:
		return nil, fmt.Errorf("bybit: unsupported order type %q", spec.Type)
	}

	body, err := b.doRequest(ctx, ratelimit.CategoryTrade, http.MethodPost, "/v5/order/create", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			OrderId     string `json:"orderId"`
			OrderLinkId string `json:"orderLinkId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ExchangeError{Exchange: "bybit", Message: "decode order response", Original: err}
	}

	now := time.Now()
	order := &Order{
		ID:            resp.Result.OrderId,
		ClientOrderID: resp.Result.OrderLinkId,
		Symbol:        spec.Symbol,
		Side:          spec.Side,
		Type:          spec.Type,
		Quantity:      spec.Quantity,
		TriggerPrice:  spec.TriggerPrice,
		Status:        OrderStatusLive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if spec.Type == OrderTypeMarket {
		// Получаем информацию об исполнении рыночного ордера
		order.Status = OrderStatusFilled
		order.FilledQty = spec.Quantity
		if st, err := b.GetOrderStatus(ctx, spec.Symbol, order.ID); err == nil {
			if st.Status == OrderStatusRejected || (st.Status == OrderStatusCancelled && st.FilledQty == 0) {
				return nil, &RejectionError{Exchange: "bybit", Reason: "market order not filled: " + st.Reason}
			}
			order.FilledQty = st.FilledQty
			order.AvgFillPrice = st.AvgPrice
		}
	}

	return order, nil
}

// CancelOrder отменяет ордер; "не существует / поздно" считается успехом,
// фактическое состояние вызывающая сторона подтверждает через GetOrderStatus
func (b *Bybit) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := map[string]interface{}{
		"category": bybitCategory,
		"symbol":   symbol,
		"orderId":  orderID,
	}
	_, err := b.doRequest(ctx, ratelimit.CategoryTrade, http.MethodPost, "/v5/order/cancel", params)
	if err != nil {
		var exErr *ExchangeError
		if errors.As(err, &exErr) && exErr.Code == strconv.Itoa(bybitOrderNotExists) {
			return nil
		}
		return err
	}
	return nil
}

type bybitOrderInfo struct {
	OrderId       string `json:"orderId"`
	OrderStatus   string `json:"orderStatus"`
	CumExecQty    string `json:"cumExecQty"`
	AvgPrice      string `json:"avgPrice"`
	RejectReason  string `json:"rejectReason"`
	UpdatedTime   string `json:"updatedTime"`
	StopOrderType string `json:"stopOrderType"`
}

func (o bybitOrderInfo) toStatus() *OrderStatus {
	filled, _ := strconv.ParseFloat(o.CumExecQty, 64)
	avg, _ := strconv.ParseFloat(o.AvgPrice, 64)
	st := &OrderStatus{
		OrderID:   o.OrderId,
		Status:    mapBybitStatus(o.OrderStatus),
		FilledQty: filled,
		AvgPrice:  avg,
		UpdatedAt: time.Now(),
	}
	if o.RejectReason != "" && o.RejectReason != "EC_NoError" {
		st.Reason = o.RejectReason
	}
	if ms, err := strconv.ParseInt(o.UpdatedTime, 10, 64); err == nil && ms > 0 {
		st.UpdatedAt = time.UnixMilli(ms)
	}
	return st
}

// mapBybitStatus приводит статус Bybit к нормализованному
func mapBybitStatus(s string) string {
	switch s {
	case "Created":
		return OrderStatusNew
	case "New", "Untriggered", "Triggered", "PartiallyFilled", "Active":
		return OrderStatusLive
	case "Filled":
		return OrderStatusFilled
	case "Cancelled", "Deactivated", "PartiallyFilledCanceled":
		return OrderStatusCancelled
	case "Rejected":
		return OrderStatusRejected
	default:
		return OrderStatusLive
	}
}

func (b *Bybit) queryOrders(ctx context.Context, endpoint string, params map[string]interface{}) ([]bybitOrderInfo, error) {
	body, err := b.doRequest(ctx, ratelimit.CategoryQuery, http.MethodGet, endpoint, params)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result struct {
			List []bybitOrderInfo `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ExchangeError{Exchange: "bybit", Message: "decode order list", Original: err}
	}
	return resp.Result.List, nil
}

// GetOrderStatus ищет ордер среди активных, затем в истории
func (b *Bybit) GetOrderStatus(ctx context.Context, symbol, orderID string) (*OrderStatus, error) {
	params := map[string]interface{}{
		"category": bybitCategory,
		"symbol":   symbol,
		"orderId":  orderID,
	}

	for _, endpoint := range []string{"/v5/order/realtime", "/v5/order/history"} {
		list, err := b.queryOrders(ctx, endpoint, params)
		if err != nil {
			return nil, err
		}
		for _, o := range list {
			if o.OrderId == orderID {
				return o.toStatus(), nil
			}
		}
	}

	return nil, fmt.Errorf("bybit %s %s: %w", symbol, orderID, ErrOrderNotFound)
}

// GetOrderStatuses опрашивает активные условные ордера символа одним запросом;
// ордера, которых нет среди активных, дозапрашиваются по одному.
//
// Результат частичный: ордер, которого биржа не знает, возвращается как
// Cancelled, а ошибка одного дозапроса не отменяет статусы остальных
// ордеров. Ошибки дозапросов объединяются в возвращаемую ошибку.
func (b *Bybit) GetOrderStatuses(ctx context.Context, symbol string, orderIDs []string) (map[string]*OrderStatus, error) {
	list, err := b.queryOrders(ctx, "/v5/order/realtime", map[string]interface{}{
		"category":    bybitCategory,
		"symbol":      symbol,
		"orderFilter": "StopOrder",
		"limit":       50,
	})
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(orderIDs))
	for _, id := range orderIDs {
		wanted[id] = true
	}

	result := make(map[string]*OrderStatus, len(orderIDs))
	for _, o := range list {
		if wanted[o.OrderId] {
			result[o.OrderId] = o.toStatus()
		}
	}

	var errs []error
	for _, id := range orderIDs {
		if _, ok := result[id]; ok {
			continue
		}
		st, err := b.GetOrderStatus(ctx, symbol, id)
		switch {
		case errors.Is(err, ErrOrderNotFound):
			result[id] = &OrderStatus{OrderID: id, Status: OrderStatusCancelled, Reason: "not found"}
		case err != nil:
			errs = append(errs, err)
		default:
			result[id] = st
		}
	}

	return result, errors.Join(errs...)
}

// Close закрывает idle соединения
func (b *Bybit) Close() error {
	closeIdle(b.httpClient)
	return nil
}
