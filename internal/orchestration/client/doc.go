// Package client is the caller-facing handle for text analysis.
//
// A Client starts analyses, waits for their results, reports status and
// cancels them. It talks to a Backend: EngineBackend drives an in-process
// engine, and the api package provides a RemoteBackend that speaks to a
// textflow daemon over HTTP.
//
// Example usage:
//
//	c := client.New(client.NewEngineBackend(engine), client.Config{})
//	defer c.Close()
//
//	id, err := c.Start(ctx, "The launch went great.")
//	if err != nil {
//	    return err
//	}
//	result, err := c.AwaitResult(ctx, id, time.Minute)
package client
