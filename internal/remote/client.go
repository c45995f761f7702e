package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/cpqcart/internal/domain"
	"github.com/fjod/cpqcart/internal/metrics"
)

const (
	MethodGetCartsItems    = "getCartsItems"
	MethodPutCartsItems    = "putCartsItems"
	MethodGetCartsProducts = "getCartsProducts"
	MethodPostCartsItems   = "postCartsItems"
)

var (
	ErrMissingMethod = errors.New("input map has no methodName")
	ErrUnknownMethod = errors.New("unknown method")
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("not found")
)

// InputMap is the request body of every remote call. It always carries a
// methodName discriminator; everything else is operation specific.
type InputMap map[string]any

func (m InputMap) Method() string {
	s, _ := m["methodName"].(string)
	return s
}

func (m InputMap) String(key string) string {
	s, _ := m[key].(string)
	return s
}

func GetCartsItems(cartID string) InputMap {
	return InputMap{
		"methodName": MethodGetCartsItems,
		"cartId":     cartID,
		"price":      false,
		"validate":   false,
	}
}

func GetCartsProducts(cartID string) InputMap {
	return InputMap{
		"methodName": MethodGetCartsProducts,
		"cartId":     cartID,
	}
}

// PutCartsItems submits full field bags for repricing and validation.
func PutCartsItems(cartID string, records ...domain.FieldBag) InputMap {
	rs := make([]domain.FieldBag, len(records))
	copy(rs, records)
	return InputMap{
		"methodName": MethodPutCartsItems,
		"cartId":     cartID,
		"items":      map[string]any{"records": rs},
		"price":      true,
		"validate":   true,
	}
}

// Transport performs a single round trip and returns the raw response body.
type Transport interface {
	RoundTrip(ctx context.Context, input InputMap) ([]byte, error)
}

// Client wraps a transport with envelope decoding. It performs no retries and
// no timeout handling of its own.
type Client struct {
	transport Transport
}

func NewClient(transport Transport) *Client {
	return &Client{transport: transport}
}

func (c *Client) Invoke(ctx context.Context, input InputMap) (*domain.Envelope, error) {
	method := input.Method()
	if method == "" {
		return nil, &CallError{Err: ErrMissingMethod}
	}

	start := time.Now()
	env, err := c.invoke(ctx, method, input)
	metrics.RecordRemoteCall(method, err, time.Since(start))
	return env, err
}

func (c *Client) invoke(ctx context.Context, method string, input InputMap) (*domain.Envelope, error) {
	body, err := c.transport.RoundTrip(ctx, input)
	if err != nil {
		var ce *CallError
		if errors.As(err, &ce) {
			if ce.Method == "" {
				ce.Method = method
			}
			return nil, ce
		}
		return nil, &CallError{Method: method, Err: err}
	}

	env, err := domain.DecodeEnvelope(body)
	if err != nil {
		return nil, &CallError{Method: method, Payload: payloadOf(body), Err: err}
	}
	return env, nil
}

// CallError is a failed remote call. Payload is the opaque detail returned by
// the service or the transport, if any.
type CallError struct {
	Method  string
	Payload json.RawMessage
	Err     error
}

func (e *CallError) Error() string {
	if len(e.Payload) > 0 {
		return fmt.Sprintf("remote %s failed: %v: %s", e.Method, e.Err, e.Payload)
	}
	return fmt.Sprintf("remote %s failed: %v", e.Method, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Describe serializes an error into the opaque JSON string exposed on cart
// snapshots. A nil error describes as "".
func Describe(err error) string {
	if err == nil {
		return ""
	}
	body := map[string]any{"message": err.Error()}
	var ce *CallError
	if errors.As(err, &ce) {
		if ce.Err != nil {
			body["message"] = ce.Err.Error()
		}
		if ce.Method != "" {
			body["method"] = ce.Method
		}
		if len(ce.Payload) > 0 {
			body["detail"] = ce.Payload
		}
	}
	out, mErr := json.Marshal(body)
	if mErr != nil {
		return fmt.Sprintf("%q", err.Error())
	}
	return string(out)
}

// payloadOf keeps valid JSON as is and quotes anything else.
func payloadOf(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(append([]byte(nil), b...))
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}
