package payments

import (
	"context"

	"paycollect/internal/daraja"
)

// DarajaGateway adapts the Daraja client to the Gateway interface.
type DarajaGateway struct {
	client *daraja.Client
}

// NewDarajaGateway wraps a Daraja client.
func NewDarajaGateway(client *daraja.Client) *DarajaGateway {
	return &DarajaGateway{client: client}
}

func (g *DarajaGateway) InitiatePush(ctx context.Context, phone string, amount int64) (*PushResult, error) {
	resp, err := g.client.InitiatePush(ctx, phone, amount)
	if err != nil {
		return nil, err
	}
	return &PushResult{
		MerchantRequestID: resp.MerchantRequestID,
		CheckoutRequestID: resp.CheckoutRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

func (g *DarajaGateway) QueryStatus(ctx context.Context, checkoutRequestID string) (*QueryResult, error) {
	resp, err := g.client.QueryStatus(ctx, checkoutRequestID)
	if err != nil {
		return nil, err
	}
	return &QueryResult{
		ResultCode: resp.ResultCode,
		ResultDesc: resp.ResultDesc,
	}, nil
}
