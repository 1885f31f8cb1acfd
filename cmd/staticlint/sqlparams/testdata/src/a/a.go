package a

import (
	"context"
	"fmt"

	"example.com/shortener/db/gateway"
)

const selectLong = `SELECT long FROM urls WHERE short = @short`

type notGateway struct{}

func (notGateway) Execute(ctx context.Context, query string, args gateway.Args) (int64, error) {
	return 0, nil
}

func queries(ctx context.Context, gw *gateway.Gateway, h *gateway.Handle, short, table string) {
	var long string

	gw.FetchValue(ctx, selectLong, gateway.Args{"short": short}, &long)
	gw.FetchValue(ctx, `SELECT long FROM urls `+`WHERE short = @short`, gateway.Args{"short": short}, &long)

	query := selectLong
	gw.FetchValue(ctx, query, gateway.Args{"short": short}, &long)

	gw.FetchValue(ctx, fmt.Sprintf("SELECT long FROM urls WHERE short = '%s'", short), nil, &long) // want `query passed to FetchValue is built at runtime; bind values with gateway.Args`
	gw.Execute(ctx, "DELETE FROM "+table, nil)                                                   // want `query passed to Execute is built at runtime; bind values with gateway.Args`
	gw.Execute(ctx, ("UPDATE urls SET clicks = " + short), nil)                                  // want `query passed to Execute is built at runtime; bind values with gateway.Args`
	h.ExecuteMany(ctx, fmt.Sprint("INSERT INTO ", table), nil)                                   // want `query passed to ExecuteMany is built at runtime; bind values with gateway.Args`

	notGateway{}.Execute(ctx, "DELETE FROM "+table, nil)
}
