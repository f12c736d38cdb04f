package autograd

import (
	"context"

	"github.com/jfk9w-go/flu/apfel"
)

// Client is the RPC application mixin.
type Client[C interface {
	Context
	apfel.PrometheusContext
}] struct {
	*RPC
}

func (c Client[C]) String() string {
	return "autograd.client"
}

func (c *Client[C]) Include(ctx context.Context, app apfel.MixinApp[C]) error {
	var metrics apfel.Prometheus[C]
	if err := app.Use(ctx, &metrics, false); err != nil {
		return err
	}

	rpc, err := New(app.Config().AutogradConfig(), nil, app, metrics.Registry())
	if err != nil {
		return err
	}

	c.RPC = rpc
	return nil
}
