package infrastructure

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/pkg/errors"

	"atlas/internal/pkg/httpclient"
)

// PaymentHTTPAdapter talks to the external payment gateway over HTTP with
// trace propagation. The gateway protocol itself is a collaborator detail;
// only capture and refund are needed here.
type PaymentHTTPAdapter struct {
	client     *httpclient.Client
	gatewayURL string
}

func NewPaymentHTTPAdapter(client *httpclient.Client, gatewayURL string) *PaymentHTTPAdapter {
	return &PaymentHTTPAdapter{client: client, gatewayURL: gatewayURL}
}

type captureResponse struct {
	Reference string `json:"reference"`
}

func (a *PaymentHTTPAdapter) Capture(ctx context.Context, orderID string, amountCents int64) (string, error) {
	params := url.Values{}
	params.Set("order_id", orderID)
	params.Set("amount_cents", strconv.FormatInt(amountCents, 10))

	body, err := a.client.Post(ctx, a.gatewayURL+"/capture", params)
	if err != nil {
		return "", errors.Wrap(err, "payment capture")
	}
	var resp captureResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.Wrap(err, "decode capture response")
	}
	if resp.Reference == "" {
		return "", errors.New("payment gateway returned empty reference")
	}
	return resp.Reference, nil
}

func (a *PaymentHTTPAdapter) Refund(ctx context.Context, ref string) error {
	params := url.Values{}
	params.Set("reference", ref)
	if _, err := a.client.Post(ctx, a.gatewayURL+"/refund", params); err != nil {
		return errors.Wrap(err, "payment refund")
	}
	return nil
}
