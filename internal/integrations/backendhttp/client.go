package backendhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

var ErrUnauthorized = errors.New("backend: unauthorized")

// TokenSource yields the bearer token for outgoing requests. Implemented by
// auth.TokenStore. A missing token sends the request unauthenticated and lets
// the backend answer 401.
type TokenSource interface {
	Token(ctx context.Context) (string, bool)
}

type Client struct {
	baseURL string
	tokens  TokenSource
	httpc   *http.Client
}

func New(baseURL string, tokens TokenSource) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) WithTimeout(d time.Duration) *Client {
	if d > 0 {
		c.httpc.Timeout = d
	}
	return c
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterInput struct {
	Name     string `json:"nombre"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"telefono,omitempty"`
}

type authResp struct {
	Token string `json:"token"`
}

type Wallet struct {
	FiatBalance   float64 `json:"saldoPesos"`
	CryptoBalance float64 `json:"saldoCrypto"`
}

type Transaction struct {
	ID      string  `json:"id"`
	Type    string  `json:"tipo"`
	Amount  float64 `json:"monto"`
	Concept string  `json:"concepto"`
	Date    string  `json:"fecha"`
}

type Preference struct {
	PreferenceID string `json:"preferenceId"`
	InitPoint    string `json:"initPoint"`
}

type PaymentInput struct {
	Amount      float64 `json:"amount"`
	Concept     string  `json:"concept"`
	PaymentType string  `json:"paymentType"`
}

type PaymentResult struct {
	Status string `json:"status"`
}

type CryptoPrice struct {
	Price float64 `json:"precio"`
}

type CryptoTrade struct {
	Status        string  `json:"status"`
	FiatBalance   float64 `json:"saldoPesos"`
	CryptoBalance float64 `json:"saldoCrypto"`
}

type OrderSummary struct {
	ID         string  `json:"pedidoId"`
	Status     string  `json:"estado"`
	Total      float64 `json:"total"`
	Restaurant string  `json:"restaurante"`
	CreatedAt  string  `json:"fechaCreacion"`
}

func (c *Client) Login(ctx context.Context, in LoginInput) (string, error) {
	var r authResp
	if err := c.do(ctx, http.MethodPost, "/auth/login", in, &r); err != nil {
		return "", err
	}
	return r.Token, nil
}

func (c *Client) Register(ctx context.Context, in RegisterInput) (string, error) {
	var r authResp
	if err := c.do(ctx, http.MethodPost, "/auth/register", in, &r); err != nil {
		return "", err
	}
	return r.Token, nil
}

func (c *Client) GetWallet(ctx context.Context) (Wallet, error) {
	var w Wallet
	err := c.do(ctx, http.MethodGet, "/wallet", nil, &w)
	return w, err
}

func (c *Client) GetTransactions(ctx context.Context) ([]Transaction, error) {
	var out []Transaction
	err := c.do(ctx, http.MethodGet, "/wallet/transacciones", nil, &out)
	return out, err
}

func (c *Client) CreatePreference(ctx context.Context, amount float64) (Preference, error) {
	var p Preference
	err := c.do(ctx, http.MethodPost, "/wallet/create-preference", map[string]any{"amount": amount}, &p)
	return p, err
}

func (c *Client) CreatePayment(ctx context.Context, in PaymentInput) (PaymentResult, error) {
	var r PaymentResult
	err := c.do(ctx, http.MethodPost, "/wallet/create-payment", in, &r)
	return r, err
}

func (c *Client) GetCryptoPrice(ctx context.Context) (float64, error) {
	var p CryptoPrice
	if err := c.do(ctx, http.MethodGet, "/wallet/crypto/price", nil, &p); err != nil {
		return 0, err
	}
	return p.Price, nil
}

func (c *Client) BuyCrypto(ctx context.Context, amount float64) (CryptoTrade, error) {
	var r CryptoTrade
	err := c.do(ctx, http.MethodPost, "/wallet/crypto/buy", map[string]any{"amount": amount}, &r)
	return r, err
}

func (c *Client) SellCrypto(ctx context.Context, amount float64) (CryptoTrade, error) {
	var r CryptoTrade
	err := c.do(ctx, http.MethodPost, "/wallet/crypto/sell", map[string]any{"amount": amount}, &r)
	return r, err
}

func (c *Client) MyOrders(ctx context.Context) ([]OrderSummary, error) {
	var out []OrderSummary
	err := c.do(ctx, http.MethodGet, "/api/pedidos/mis-pedidos", nil, &out)
	return out, err
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &out)
	return out, err
}

// NotifyOrderCreated mirrors the order-created event the client fires after
// checkout.
func (c *Client) NotifyOrderCreated(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodPost, "/api/pedido/events/creado", map[string]any{"pedidoId": orderID}, nil)
}

// PayOrder triggers the payment flow for an order. The concept it sends is the
// same string the payment.request event echoes back, so the order id survives
// the round trip.
func (c *Client) PayOrder(ctx context.Context, orderID, restaurant string, amount float64) error {
	return c.do(ctx, http.MethodPost, "/api/pedido/events/pagar", map[string]any{
		"pedidoId": orderID,
		"amount":   amount,
		"concept":  Concept(orderID, restaurant),
	}, nil)
}

// Concept formats the payment concept line, "Pedido #<id> - <restaurant>".
func Concept(orderID, restaurant string) string {
	return fmt.Sprintf("Pedido #%s - %s", orderID, restaurant)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal body")
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if tok, ok := c.tokens.Token(ctx); ok {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("backend http %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode")
	}
	return nil
}
