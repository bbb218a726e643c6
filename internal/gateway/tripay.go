// Package gateway isolates all interaction with the Tripay payment
// provider behind a small client: channel listing, transaction
// creation, transaction lookup and HMAC signature handling. The client
// keeps no state between calls.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// PaymentWindow is how long a created transaction stays payable.
const PaymentWindow = 24 * time.Hour

// ErrGatewayUnavailable is returned when the provider keeps failing
// with transient errors after the allowed number of retries.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// ErrTransactionFailed is returned when the provider rejects a
// create-transaction request.
var ErrTransactionFailed = errors.New("transaction creation failed")

// ErrTransactionNotFound is returned when no transaction exists for
// the requested reference.
var ErrTransactionNotFound = errors.New("transaction not found")

// ErrInvalidOrder is returned when a create-transaction request is
// missing fields or carries a malformed amount.
var ErrInvalidOrder = errors.New("invalid order")

// Config holds the Tripay credentials and endpoint.
type Config struct {
	BaseURL      string
	APIKey       string
	PrivateKey   string
	MerchantCode string
	RefPrefix    string
}

// Client is the Tripay HTTP client.
type Client struct {
	baseURL      string
	apiKey       string
	privateKey   string
	merchantCode string
	refPrefix    string
	http         *http.Client
}

// NewClient constructs a Client. The private key is trimmed here in
// addition to config load; an untrimmed key silently produces signature
// mismatches on every callback.
func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		privateKey:   strings.TrimSpace(cfg.PrivateKey),
		merchantCode: strings.TrimSpace(cfg.MerchantCode),
		refPrefix:    cfg.RefPrefix,
		http:         &http.Client{Timeout: 15 * time.Second},
	}
}

// MerchantRef builds the merchant reference for a reservation, e.g.
// "BSPA-42".
func (c *Client) MerchantRef(reservationID uint64) string {
	return c.refPrefix + "-" + strconv.FormatUint(reservationID, 10)
}

// Sign computes the hex HMAC-SHA256 of payload under the private key.
func (c *Client) Sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.privateKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// CallbackSignature computes the expected X-Callback-Signature value
// for a callback identified by merchant_ref, reference and status.
func (c *Client) CallbackSignature(merchantRef, reference, status string) string {
	return c.Sign(merchantRef + reference + status)
}

// VerifyCallbackSignature recomputes the callback signature and
// compares it to the header value in constant time.
func (c *Client) VerifyCallbackSignature(headerSignature, merchantRef, reference, status string) bool {
	expected := c.CallbackSignature(merchantRef, reference, status)
	return hmac.Equal([]byte(expected), []byte(headerSignature))
}

// Channel is one payment method offered by the gateway.
type Channel struct {
	Group  string `json:"group"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type channelsResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Data    []Channel `json:"data"`
}

// ListChannels fetches the active payment methods. Transient failures
// (network errors, timeouts, 5xx responses) are retried up to retries
// additional times; exhausting them returns ErrGatewayUnavailable.
func (c *Client) ListChannels(ctx context.Context, retries int) ([]Channel, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		channels, retryable, err := c.fetchChannels(ctx)
		if err == nil {
			return channels, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, lastErr)
}

func (c *Client) fetchChannels(ctx context.Context) ([]Channel, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/merchant/payment-channel", nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("%w: gateway returned %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var parsed channelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, false, fmt.Errorf("decode channels: %w", err)
	}
	if !parsed.Success {
		return nil, false, fmt.Errorf("%w: %s", ErrGatewayUnavailable, parsed.Message)
	}

	active := make([]Channel, 0, len(parsed.Data))
	for _, ch := range parsed.Data {
		if ch.Active {
			active = append(active, ch)
		}
	}
	return active, false, nil
}

// Order is the input to CreateTransaction. Amount is in currency
// units, not cents, because the signature string must match what the
// provider computes over the wire value.
type Order struct {
	ReservationID uint64
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Method        string
	Amount        float64
	ServiceName   string
}

func (o Order) validate() error {
	switch {
	case o.ReservationID == 0:
		return fmt.Errorf("%w: reservation id is required", ErrInvalidOrder)
	case o.CustomerName == "":
		return fmt.Errorf("%w: customer name is required", ErrInvalidOrder)
	case o.CustomerEmail == "":
		return fmt.Errorf("%w: customer email is required", ErrInvalidOrder)
	case o.CustomerPhone == "":
		return fmt.Errorf("%w: customer phone is required", ErrInvalidOrder)
	case o.Method == "":
		return fmt.Errorf("%w: payment method is required", ErrInvalidOrder)
	case o.ServiceName == "":
		return fmt.Errorf("%w: service name is required", ErrInvalidOrder)
	case o.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}
	// Reject amounts with more than two decimal places: they cannot be
	// represented on the provider side and would break the signature.
	scaled := o.Amount * 100
	if math.Abs(scaled-math.Round(scaled)) > 1e-9 {
		return fmt.Errorf("%w: amount has more than two decimal places", ErrInvalidOrder)
	}
	return nil
}

// formatAmount renders the amount the way it is signed and sent:
// minimal decimal representation, no trailing zeros.
func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

// Instruction is one set of payment steps returned by the gateway.
type Instruction struct {
	Title string   `json:"title"`
	Steps []string `json:"steps"`
}

// Transaction is the provider's record of a created or fetched
// transaction.
type Transaction struct {
	Reference    string        `json:"reference"`
	MerchantRef  string        `json:"merchant_ref"`
	Method       string        `json:"payment_method"`
	Status       string        `json:"status"`
	Amount       float64       `json:"amount"`
	FeeMerchant  float64       `json:"fee_merchant"`
	CheckoutURL  string        `json:"checkout_url"`
	PayCode      string        `json:"pay_code"`
	ExpiredTime  int64         `json:"expired_time"`
	Instructions []Instruction `json:"instructions"`
}

type transactionResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// CreateTransaction registers a new transaction with the gateway and
// returns the provider's record. The call is intentionally not
// retried: a duplicate POST could create two live transactions for one
// reservation, so the caller resubmits the whole reservation flow
// instead.
func (c *Client) CreateTransaction(ctx context.Context, order Order) (*Transaction, string, error) {
	if err := order.validate(); err != nil {
		return nil, "", err
	}

	merchantRef := c.MerchantRef(order.ReservationID)
	amountStr := formatAmount(order.Amount)
	expiredAt := time.Now().Add(PaymentWindow).Unix()

	payload := map[string]interface{}{
		"method":         order.Method,
		"merchant_ref":   merchantRef,
		"amount":         order.Amount,
		"customer_name":  order.CustomerName,
		"customer_email": order.CustomerEmail,
		"customer_phone": order.CustomerPhone,
		"order_items": []map[string]interface{}{
			{"name": order.ServiceName, "price": order.Amount, "quantity": 1},
		},
		"expired_time": expiredAt,
		"signature":    c.Sign(c.merchantCode + merchantRef + amountStr),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transaction/create", bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: read response: %v", ErrTransactionFailed, err)
	}

	var parsed transactionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, "", fmt.Errorf("%w: decode response: %v", ErrTransactionFailed, err)
	}
	if resp.StatusCode != http.StatusOK || !parsed.Success {
		return nil, "", fmt.Errorf("%w: %s", ErrTransactionFailed, parsed.Message)
	}

	var tx Transaction
	if err := json.Unmarshal(parsed.Data, &tx); err != nil {
		return nil, "", fmt.Errorf("%w: decode transaction: %v", ErrTransactionFailed, err)
	}
	if tx.Reference == "" || tx.CheckoutURL == "" {
		return nil, "", fmt.Errorf("%w: incomplete transaction record", ErrTransactionFailed)
	}
	return &tx, string(parsed.Data), nil
}

// GetTransactionDetail fetches the current provider-side state of a
// transaction. Safe to retry; it is a read.
func (c *Client) GetTransactionDetail(ctx context.Context, reference string) (*Transaction, error) {
	endpoint := c.baseURL + "/transaction/detail?reference=" + url.QueryEscape(reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, reference)
	}
	var parsed transactionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode transaction detail: %w", err)
	}
	if !parsed.Success {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, parsed.Message)
	}

	var tx Transaction
	if err := json.Unmarshal(parsed.Data, &tx); err != nil {
		return nil, fmt.Errorf("decode transaction detail: %w", err)
	}
	return &tx, nil
}
