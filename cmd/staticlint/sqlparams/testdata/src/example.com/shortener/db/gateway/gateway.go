package gateway

import "context"

type Args map[string]any

type Gateway struct{}

func (g *Gateway) Execute(ctx context.Context, query string, args Args) (int64, error) {
	return 0, nil
}

func (g *Gateway) FetchValue(ctx context.Context, query string, args Args, dest any) (bool, error) {
	return false, nil
}

type Handle struct{}

func (h *Handle) ExecuteMany(ctx context.Context, query string, argsList []Args) error {
	return nil
}
