// Package client is the Go SDK for the video access ledger gateway.
//
// A Client authenticates with a principal token and calls the gateway's
// /api/v1 endpoints:
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithBearerToken(os.Getenv("VIDLEDGER_TOKEN")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	id, err := c.List(ctx, "Sunset", "timelapse", "bafy...", 100)
//	receipt, err := c.Purchase(ctx, id, 100)
//	view, err := c.GetListing(ctx, id) // Locator is "" unless the caller has access
//
// Errors returned by the gateway are *APIError values; match the ledger
// error kind with IsCode:
//
//	if client.IsCode(err, client.CodeAlreadyPurchased) { ... }
package client
