package exec

import "context"

// PaperExecutor fills every order immediately at the requested price.
// Used for dry runs and the backtest fill adapter.
type PaperExecutor struct{}

func (PaperExecutor) Submit(_ context.Context, order OrderRequest) (float64, error) {
	return order.Qty, nil
}

func (PaperExecutor) Close(_ context.Context, order OrderRequest) (float64, error) {
	return order.Qty, nil
}
